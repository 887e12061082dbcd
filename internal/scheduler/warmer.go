// Package scheduler periodically warms the cache for configured search terms.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/metrics"
)

const defaultRunTimeout = 10 * time.Minute

// Searcher runs one search through the pipeline.
type Searcher interface {
	Search(ctx context.Context, query crawler.SearchQuery) (crawler.JobResult, error)
}

// Config controls the warmer.
type Config struct {
	// Schedule is a cron spec such as "@every 30m" or "0 */2 * * *".
	Schedule string
	// Terms are searched on every run. An empty list disables the warmer.
	Terms []string
	// RunOnStart triggers one run immediately after Start.
	RunOnStart bool
	// RunTimeout bounds a whole run.
	RunTimeout time.Duration
	// CacheMaxAge is the cache entry lifetime. Zero means entries never
	// expire, so runs after the first only refill evicted terms.
	CacheMaxAge time.Duration
}

// Warmer wraps robfig/cron and submits the configured terms on schedule.
// Searches go through the cache-first pipeline: terms already cached are
// served from cache, and only expired or evicted terms are crawled again.
type Warmer struct {
	cron     *cron.Cron
	searcher Searcher
	cfg      Config
	logger   *zap.Logger
}

// New creates a Warmer.
func New(searcher Searcher, cfg Config, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	logger = logger.Named("warmer")
	cl := cronLogger{logger.Sugar()}
	return &Warmer{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		searcher: searcher,
		cfg:      cfg,
		logger:   logger,
	}
}

// Enabled reports whether any term is configured.
func (w *Warmer) Enabled() bool {
	return len(w.cfg.Terms) > 0
}

// Start registers the job and starts the scheduler.
func (w *Warmer) Start(ctx context.Context) error {
	if !w.Enabled() {
		w.logger.Info("no warmup terms configured; warmer disabled")
		return nil
	}
	if _, err := w.cron.AddFunc(w.cfg.Schedule, func() { w.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule warmer %q: %w", w.cfg.Schedule, err)
	}
	w.cron.Start()
	w.logger.Info("warmer started", zap.String("schedule", w.cfg.Schedule), zap.Strings("terms", w.cfg.Terms))
	if w.cfg.CacheMaxAge <= 0 {
		w.logger.Warn("cache.max_age is 0; warmup only refills missing terms and never refreshes cached ones")
	}
	if w.cfg.RunOnStart {
		go w.RunOnce(ctx)
	}
	return nil
}

// Stop halts the scheduler and waits for a running job to finish or ctx to
// end.
func (w *Warmer) Stop(ctx context.Context) {
	done := w.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		w.logger.Warn("warmer stop timed out", zap.Error(ctx.Err()))
	}
}

// RunOnce searches every configured term and reports how many succeeded.
// Failures are logged and never stop the run.
func (w *Warmer) RunOnce(ctx context.Context) (warmed, failed int) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.RunTimeout)
	defer cancel()

	start := time.Now()
	for _, term := range w.cfg.Terms {
		if ctx.Err() != nil {
			failed += len(w.cfg.Terms) - warmed - failed
			break
		}
		res, err := w.searcher.Search(ctx, crawler.SearchQuery{Term: term})
		if err != nil {
			failed++
			w.logger.Warn("warmup search failed", zap.String("term", term), zap.Error(err))
			continue
		}
		warmed++
		w.logger.Debug("warmed term",
			zap.String("term", term),
			zap.Int("jobs", len(res.Jobs)),
			zap.Bool("from_cache", res.FromCache),
		)
	}

	status := "success"
	if failed > 0 {
		status = "partial"
		if warmed == 0 {
			status = "error"
		}
	}
	metrics.ObserveWarmup(status)
	w.logger.Info("warmup run completed",
		zap.Int("warmed", warmed),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)),
	)
	return warmed, failed
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
