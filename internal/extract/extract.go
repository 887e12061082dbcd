// Package extract turns rendered listing pages into job records.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
)

// Mode selects which strategies the extractor may use per listing.
type Mode int

const (
	// ModeStructured reads the embedded JSON-LD block first and fills any
	// missing field from the visible DOM.
	ModeStructured Mode = iota
	// ModeDOM only reads visible DOM text.
	ModeDOM
)

func (m Mode) String() string {
	if m == ModeDOM {
		return "dom"
	}
	return "structured"
}

const (
	defaultListingSelector = ".job"
	totalSelector          = ".action-remove-latest-filter"
	jsonLDSelector         = `script[type="application/ld+json"]`
)

var (
	whitespaceRun = regexp.MustCompile(`[\t\n]+`)
	leadingInt    = regexp.MustCompile(`\d[\d,]*`)
)

// Config controls how listings are located and resolved.
type Config struct {
	// Origin is the site origin used to resolve relative links.
	Origin string
	// ListingSelector matches one element per job listing.
	ListingSelector string
}

// Stats reports what happened during one extraction.
type Stats struct {
	Listings   int
	Skipped    int
	Duplicates int
}

// Extractor parses listing markup. It holds no per-call state and is safe
// for concurrent use.
type Extractor struct {
	cfg    Config
	hasher crawler.Hasher
	logger *zap.Logger
}

// New builds an Extractor. A nil logger discards debug output.
func New(cfg Config, hasher crawler.Hasher, logger *zap.Logger) *Extractor {
	if cfg.ListingSelector == "" {
		cfg.ListingSelector = defaultListingSelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, hasher: hasher, logger: logger.Named("extract")}
}

// Extract returns the unique, valid records found in html in document order.
func (e *Extractor) Extract(html []byte, mode Mode) ([]crawler.JobRecord, error) {
	records, _, err := e.ExtractWithStats(html, mode)
	return records, err
}

// ExtractWithStats is Extract plus listing counters.
func (e *Extractor) ExtractWithStats(html []byte, mode Mode) ([]crawler.JobRecord, Stats, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, Stats{}, fmt.Errorf("parse document: %w", crawler.ErrExtraction)
	}

	var (
		stats   Stats
		records = make([]crawler.JobRecord, 0)
		seen    = make(map[string]struct{})
	)
	doc.Find(e.cfg.ListingSelector).Each(func(i int, sel *goquery.Selection) {
		stats.Listings++
		record, err := e.listing(sel, mode)
		if err != nil {
			stats.Skipped++
			e.logger.Debug("skipping listing", zap.Int("index", i), zap.Error(err))
			return
		}
		key, err := e.fingerprint(record)
		if err != nil {
			stats.Skipped++
			e.logger.Debug("skipping listing", zap.Int("index", i), zap.Error(err))
			return
		}
		if _, dup := seen[key]; dup {
			stats.Duplicates++
			return
		}
		seen[key] = struct{}{}
		records = append(records, record)
	})
	return records, stats, nil
}

// ParseTotal reads the advertised result count from the filter summary
// element. Missing or unparseable text yields 0.
func ParseTotal(html []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return 0
	}
	return parseLeadingInt(doc.Find(totalSelector).First().Text())
}

func parseLeadingInt(text string) int {
	match := leadingInt.FindString(text)
	if match == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(match, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

func (e *Extractor) listing(sel *goquery.Selection, mode Mode) (crawler.JobRecord, error) {
	var record crawler.JobRecord
	if mode == ModeStructured {
		if posting, ok := e.structured(sel); ok {
			record = posting.record()
		}
	}

	if record.Title == "" {
		record.Title = firstText(sel, "h2", "[itemprop=title]")
	}
	if record.Company == "" {
		record.Company = firstText(sel, ".company h3", ".company")
	}
	if record.Location == "" {
		record.Location = firstText(sel, ".location")
	}
	if record.Location == "" {
		record.Location = crawler.DefaultLocation
	}
	record.Tags = tags(sel)
	record.Link = e.link(sel)
	if record.LogoURL == "" {
		record.LogoURL = strings.TrimSpace(sel.Find(".logo.initials").First().Text())
	}

	if !record.Valid() {
		return crawler.JobRecord{}, &ExtractionError{Reason: "missing required field"}
	}
	return record, nil
}

func (e *Extractor) structured(sel *goquery.Selection) (jobPosting, bool) {
	script := sel.Find(jsonLDSelector).First()
	if script.Length() == 0 {
		return jobPosting{}, false
	}
	var posting jobPosting
	if err := json.Unmarshal([]byte(script.Text()), &posting); err != nil {
		e.logger.Debug("invalid json-ld block", zap.Error(err))
		return jobPosting{}, false
	}
	return posting, true
}

func (e *Extractor) link(sel *goquery.Selection) string {
	href, ok := sel.Find("a[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		href, _ = sel.Attr("data-href")
	}
	if e.cfg.Origin == "" {
		return strings.TrimSpace(href)
	}
	return crawler.ResolveLink(e.cfg.Origin, href)
}

func (e *Extractor) fingerprint(record crawler.JobRecord) (string, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	if e.hasher == nil {
		return string(payload), nil
	}
	return e.hasher.Hash(payload)
}

func tags(sel *goquery.Selection) []string {
	out := make([]string, 0)
	container := sel.Find(".tags").First()
	if container.Length() == 0 {
		return out
	}
	items := container.Find(".tag")
	if items.Length() == 0 {
		items = container.Find("a")
	}
	if items.Length() == 0 {
		if text := collapse(container.Text()); text != "" {
			out = append(out, text)
		}
		return out
	}
	items.Each(func(_ int, item *goquery.Selection) {
		if text := collapse(item.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

func firstText(sel *goquery.Selection, selectors ...string) string {
	for _, selector := range selectors {
		if text := collapse(sel.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func collapse(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// ExtractionError describes why a single listing was skipped. It never
// escapes Extract.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return "extract listing: " + e.Reason
}

// Is lets errors.Is(err, crawler.ErrExtraction) match.
func (e *ExtractionError) Is(target error) bool { return target == crawler.ErrExtraction }
