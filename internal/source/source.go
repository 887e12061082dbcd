// Package source implements crawler.JobSource strategies: a headless browser
// render, a plain static fetch, and an automatic mode that starts static and
// promotes to the browser when the page needs scripts.
package source

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/extract"
	"github.com/JakeFAU/remote-jobs-crawler/internal/metrics"
)

// Source names accepted by New.
const (
	NameHeadless = "headless"
	NameStatic   = "static"
	NameAuto     = "auto"
)

// Extractor turns listing markup into records.
type Extractor interface {
	ExtractWithStats(html []byte, mode extract.Mode) ([]crawler.JobRecord, extract.Stats, error)
}

// Headless renders the page in a browser and extracts structured data.
type Headless struct {
	renderer  crawler.Renderer
	extractor Extractor
	logger    *zap.Logger
}

// NewHeadless creates a Headless source.
func NewHeadless(renderer crawler.Renderer, extractor Extractor, logger *zap.Logger) *Headless {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Headless{renderer: renderer, extractor: extractor, logger: logger.Named("source.headless")}
}

// Fetch implements crawler.JobSource.
func (h *Headless) Fetch(ctx context.Context, rawURL string) (crawler.Crawl, error) {
	page, err := h.renderer.Render(ctx, rawURL)
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("headless source: %w", err)
	}
	crawl, err := extractPage(h.extractor, page, extract.ModeStructured)
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("headless source: %w", err)
	}
	crawl.UsedHeadless = true
	h.logger.Debug("rendered listings",
		zap.String("url", rawURL),
		zap.Int("jobs", len(crawl.Jobs)),
		zap.Int("total_reported", crawl.TotalReported),
		zap.Duration("duration", page.Duration),
	)
	return crawl, nil
}

// Static fetches the page without scripts and extracts from the DOM.
type Static struct {
	fetcher   crawler.Fetcher
	extractor Extractor
	logger    *zap.Logger
}

// NewStatic creates a Static source.
func NewStatic(fetcher crawler.Fetcher, extractor Extractor, logger *zap.Logger) *Static {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Static{fetcher: fetcher, extractor: extractor, logger: logger.Named("source.static")}
}

// Fetch implements crawler.JobSource.
func (s *Static) Fetch(ctx context.Context, rawURL string) (crawler.Crawl, error) {
	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("static source: %w", err)
	}
	crawl, err := extractPage(s.extractor, page, extract.ModeDOM)
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("static source: %w", err)
	}
	s.logger.Debug("fetched listings",
		zap.String("url", rawURL),
		zap.Int("status", page.StatusCode),
		zap.Int("jobs", len(crawl.Jobs)),
	)
	return crawl, nil
}

// Auto tries the static path first and promotes to the headless source when
// the detector flags the page, nothing was extracted, or the fetch failed.
type Auto struct {
	static   *Static
	headless crawler.JobSource
	detector crawler.HeadlessDetector
	logger   *zap.Logger
}

// NewAuto creates an Auto source. A nil headless source disables promotion.
func NewAuto(static *Static, headless crawler.JobSource, detector crawler.HeadlessDetector, logger *zap.Logger) *Auto {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auto{static: static, headless: headless, detector: detector, logger: logger.Named("source.auto")}
}

// Fetch implements crawler.JobSource.
func (a *Auto) Fetch(ctx context.Context, rawURL string) (crawler.Crawl, error) {
	page, err := a.static.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		if a.headless != nil && errors.Is(err, crawler.ErrFetch) && ctx.Err() == nil {
			a.logger.Info("static fetch failed; promoting", zap.String("url", rawURL), zap.Error(err))
			return a.promote(ctx, rawURL)
		}
		return crawler.Crawl{}, fmt.Errorf("auto source: %w", err)
	}
	if a.headless != nil && a.detector != nil && a.detector.ShouldPromote(page) {
		a.logger.Info("page needs scripts; promoting", zap.String("url", rawURL))
		return a.promote(ctx, rawURL)
	}
	crawl, err := extractPage(a.static.extractor, page, extract.ModeDOM)
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("auto source: %w", err)
	}
	if len(crawl.Jobs) == 0 && a.headless != nil {
		a.logger.Info("static page had no listings; promoting", zap.String("url", rawURL))
		return a.promote(ctx, rawURL)
	}
	return crawl, nil
}

func (a *Auto) promote(ctx context.Context, rawURL string) (crawler.Crawl, error) {
	crawl, err := a.headless.Fetch(ctx, rawURL)
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("auto source: %w", err)
	}
	return crawl, nil
}

// New builds the source named by name.
func New(name string, static *Static, headless *Headless, detector crawler.HeadlessDetector, logger *zap.Logger) (crawler.JobSource, error) {
	switch name {
	case NameHeadless, "":
		if headless == nil {
			return nil, errors.New("headless source requires a renderer")
		}
		return headless, nil
	case NameStatic:
		return static, nil
	case NameAuto:
		var promoted crawler.JobSource
		if headless != nil {
			promoted = headless
		}
		return NewAuto(static, promoted, detector, logger), nil
	default:
		return nil, fmt.Errorf("unknown source %q", name)
	}
}

func extractPage(extractor Extractor, page crawler.Page, mode extract.Mode) (crawler.Crawl, error) {
	records, stats, err := extractor.ExtractWithStats(page.Body, mode)
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("extract %s listings: %w", mode, err)
	}
	metrics.ObserveExtraction(len(records), stats.Skipped)
	return crawler.Crawl{
		Jobs:          records,
		TotalReported: page.TotalReported,
		UsedHeadless:  page.UsedHeadless,
	}, nil
}
