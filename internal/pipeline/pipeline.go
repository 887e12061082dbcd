// Package pipeline is the search façade: cache first, then a queued crawl,
// then filtering.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/dispatcher"
	"github.com/JakeFAU/remote-jobs-crawler/internal/metrics"
)

// Config controls the façade.
type Config struct {
	// Origin is the listing site, e.g. https://remoteok.com.
	Origin string
	// SearchPath is the path template for a term; %s is the escaped term.
	SearchPath string
	// Coalesce shares one crawl between concurrent misses for a term.
	Coalesce bool
}

// Submitter queues crawl tasks.
type Submitter interface {
	Submit(ctx context.Context, term, rawURL string) (*dispatcher.Pending, error)
}

// Service answers searches.
type Service struct {
	cfg    Config
	cache  crawler.CacheStore
	tasks  Submitter
	group  singleflight.Group
	logger *zap.Logger
}

// New creates a Service.
func New(cfg Config, cache crawler.CacheStore, tasks Submitter, logger *zap.Logger) *Service {
	if cfg.SearchPath == "" {
		cfg.SearchPath = crawler.DefaultSearchPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, cache: cache, tasks: tasks, logger: logger.Named("pipeline")}
}

// BuildURL returns the listing URL for term.
func (s *Service) BuildURL(term string) (string, error) {
	rawURL, err := crawler.BuildSearchURL(s.cfg.Origin, s.cfg.SearchPath, term)
	if err != nil {
		return "", fmt.Errorf("build url: %w", err)
	}
	return rawURL, nil
}

// Search returns the filtered listings for the query. A cached entry is
// served without crawling. On any crawl failure the result is
// crawler.EmptyResult and the error wraps the cause.
func (s *Service) Search(ctx context.Context, query crawler.SearchQuery) (crawler.JobResult, error) {
	term := strings.TrimSpace(query.Term)
	if term == "" {
		metrics.ObserveSearch("invalid")
		return crawler.EmptyResult(), fmt.Errorf("search: %w", crawler.ErrInvalidQuery)
	}
	logger := s.logger.With(zap.String("term", term))

	entry, hit, err := s.cache.Get(ctx, term)
	if err != nil {
		logger.Warn("cache lookup failed; crawling", zap.Error(err))
	}
	if hit {
		metrics.ObserveSearch("cache_hit")
		logger.Debug("served from cache", zap.Int("jobs", len(entry.Jobs)))
		return toResult(entry, query.Filters, true), nil
	}

	entry, hit, err = s.crawl(ctx, term)
	if err != nil {
		metrics.ObserveSearch("error")
		logger.Error("search failed", zap.Error(err))
		return crawler.EmptyResult(), fmt.Errorf("search %q: %w", term, err)
	}
	metrics.ObserveSearch("crawled")
	return toResult(entry, query.Filters, hit), nil
}

type flight struct {
	entry crawler.CacheEntry
	hit   bool
}

func (s *Service) crawl(ctx context.Context, term string) (crawler.CacheEntry, bool, error) {
	if !s.cfg.Coalesce {
		return s.submitAndWait(ctx, term)
	}

	// The shared crawl must outlive any single caller that stops waiting.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(term, func() (any, error) {
		entry, hit, err := s.submitAndWait(shared, term)
		return flight{entry: entry, hit: hit}, err
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return crawler.CacheEntry{}, false, res.Err
		}
		f, _ := res.Val.(flight)
		if res.Shared {
			s.logger.Debug("joined in-flight crawl", zap.String("term", term))
		}
		return f.entry, f.hit, nil
	case <-ctx.Done():
		return crawler.CacheEntry{}, false, fmt.Errorf("wait for crawl: %w", ctx.Err())
	}
}

func (s *Service) submitAndWait(ctx context.Context, term string) (crawler.CacheEntry, bool, error) {
	rawURL, err := s.BuildURL(term)
	if err != nil {
		return crawler.CacheEntry{}, false, err
	}
	pending, err := s.tasks.Submit(ctx, term, rawURL)
	if err != nil {
		return crawler.CacheEntry{}, false, fmt.Errorf("submit crawl: %w", err)
	}
	s.logger.Debug("crawl queued", zap.String("term", term), zap.String("task_id", pending.ID()))
	return pending.Wait(ctx)
}

func toResult(entry crawler.CacheEntry, filters crawler.Filters, fromCache bool) crawler.JobResult {
	jobs := filters.Apply(entry.Jobs)
	return crawler.JobResult{
		Jobs:              jobs,
		TotalJobsReported: entry.TotalJobsReported,
		FetchedCount:      len(jobs),
		FetchedAt:         entry.FetchedAt,
		FromCache:         fromCache,
	}
}
