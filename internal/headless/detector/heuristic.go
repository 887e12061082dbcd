// Package detector decides when a static listing page must be re-fetched
// with a headless browser.
package detector

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
)

const (
	defaultListingSelector = ".job"
	defaultBodyThreshold   = 2048
	scriptCoveragePercent  = 25
)

// Config tunes the promotion rules.
type Config struct {
	// ListingSelector matches one listing row in the static markup.
	ListingSelector string
	// BodyLengthThreshold is the size under which script-heavy pages promote.
	BodyLengthThreshold int
	// PromoteOnTruncation promotes when the page reports more listings than
	// the static markup carries.
	PromoteOnTruncation bool
}

// Heuristic implements crawler.HeadlessDetector with rule-based checks.
type Heuristic struct {
	cfg Config
}

// NewHeuristic creates a new detector.
func NewHeuristic(cfg Config) *Heuristic {
	if cfg.ListingSelector == "" {
		cfg.ListingSelector = defaultListingSelector
	}
	if cfg.BodyLengthThreshold <= 0 {
		cfg.BodyLengthThreshold = defaultBodyThreshold
	}
	return &Heuristic{cfg: cfg}
}

var spaSelectors = []string{"#__next", "#root", "#app", "[data-reactroot]"}

// ShouldPromote reports whether the static page looks script-rendered.
// Non-2xx pages never promote here; the caller classifies them.
func (h *Heuristic) ShouldPromote(page crawler.Page) bool {
	if page.StatusCode < 200 || page.StatusCode > 299 {
		return false
	}
	body := bytes.TrimSpace(page.Body)
	if len(body) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}

	listings := doc.Find(h.cfg.ListingSelector).Length()
	if listings > 0 {
		return h.cfg.PromoteOnTruncation && page.TotalReported > listings
	}
	for _, sel := range spaSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return len(body) < h.cfg.BodyLengthThreshold && scriptDensityHigh(doc, len(body))
}

// scriptDensityHigh reports whether inline scripts make up a large share of
// the document.
func scriptDensityHigh(doc *goquery.Document, total int) bool {
	if total == 0 {
		return false
	}
	coverage := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		html, err := goquery.OuterHtml(s)
		if err != nil {
			return
		}
		coverage += len(html)
	})
	return coverage*100/total >= scriptCoveragePercent
}
