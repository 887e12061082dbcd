package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultSearchPath is the listing page template; %s is the escaped term.
const DefaultSearchPath = "/remote-%s-jobs"

// BuildSearchURL joins the site origin with the search path for term.
func BuildSearchURL(origin, pathTemplate, term string) (string, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return "", fmt.Errorf("build search url: %w", ErrInvalidQuery)
	}
	base, err := NormalizeURL(origin)
	if err != nil {
		return "", err
	}
	if pathTemplate == "" {
		pathTemplate = DefaultSearchPath
	}
	return strings.TrimSuffix(base, "/") + fmt.Sprintf(pathTemplate, url.PathEscape(term)), nil
}

// ResolveLink resolves href against the site origin.
func ResolveLink(origin, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	base, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and drops fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("parse url: %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}
