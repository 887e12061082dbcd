// Package apollo forwards recruiting-data lookups to the Apollo API. Requests
// are sent once; there is no retry and no caching.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/remote-jobs-crawler/internal/metrics"
)

const (
	// DefaultBaseURL is the public Apollo endpoint.
	DefaultBaseURL = "https://api.apollo.io"

	companySearchPath = "/api/v1/mixed_companies/search"
	peopleSearchPath  = "/v1/mixed_people/search"
	personMatchPath   = "/v1/people/match"

	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 10 << 20
)

// ErrUpstream reports a transport failure talking to Apollo.
var ErrUpstream = errors.New("apollo upstream unavailable")

// Config controls the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to Apollo.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("apollo"),
	}
}

// Response is an upstream reply relayed verbatim.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// PeopleSearch is the body accepted by the employee search endpoint. The
// query fields accept either a string or a list and are forwarded as given.
type PeopleSearch struct {
	APIKey              string `json:"api_key"`
	OrganizationDomains any    `json:"q_organization_domains,omitempty"`
	PositionTitle       any    `json:"position_title,omitempty"`
	PersonSeniorities   any    `json:"person_seniorities,omitempty"`
}

// PersonMatch is the body accepted by the employee email endpoint.
type PersonMatch struct {
	APIKey           string `json:"api_key"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
	Domain           string `json:"domain,omitempty"`
}

type companySearchRequest struct {
	APIKey           string `json:"api_key"`
	OrganizationName string `json:"q_organization_name"`
	Page             int    `json:"page"`
	PerPage          int    `json:"per_page"`
}

type peopleSearchRequest struct {
	PeopleSearch
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type personMatchRequest struct {
	PersonMatch
	RevealPersonalEmails bool `json:"reveal_personal_emails"`
}

// SearchCompanies returns the organizations matching name. A non-2xx reply
// is returned as an error carrying the relayed response.
func (c *Client) SearchCompanies(ctx context.Context, apiKey, name string) ([]json.RawMessage, error) {
	resp, err := c.post(ctx, "company_search", companySearchPath, companySearchRequest{
		APIKey:           apiKey,
		OrganizationName: name,
		Page:             1,
		PerPage:          10,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &StatusError{Response: resp}
	}
	var payload struct {
		Organizations []json.RawMessage `json:"organizations"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode company search: %w", err)
	}
	return payload.Organizations, nil
}

// SearchPeople forwards an employee search.
func (c *Client) SearchPeople(ctx context.Context, req PeopleSearch) (Response, error) {
	return c.post(ctx, "people_search", peopleSearchPath, peopleSearchRequest{PeopleSearch: req, Page: 1, Limit: 100})
}

// MatchPerson forwards an employee email lookup.
func (c *Client) MatchPerson(ctx context.Context, req PersonMatch) (Response, error) {
	return c.post(ctx, "person_match", personMatchPath, personMatchRequest{PersonMatch: req, RevealPersonalEmails: true})
}

// StatusError wraps a non-2xx upstream response.
type StatusError struct {
	Response Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apollo responded %d", e.Response.StatusCode)
}

func (c *Client) post(ctx context.Context, endpoint, path string, body any) (Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return Response{}, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveProxyRequest(endpoint, 0)
		c.logger.Warn("apollo request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return Response{}, fmt.Errorf("%s: %w: %w", endpoint, ErrUpstream, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close apollo response body", zap.Error(cerr))
		}
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.ObserveProxyRequest(endpoint, 0)
		return Response{}, fmt.Errorf("%s: read body: %w: %w", endpoint, ErrUpstream, err)
	}
	metrics.ObserveProxyRequest(endpoint, resp.StatusCode)
	c.logger.Debug("apollo request completed",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        payload,
	}, nil
}
