// Package worker executes queued crawl tasks: cache lookup, fetch, cache
// write, and completion notice.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/metrics"
)

const (
	defaultTaskTimeout    = 90 * time.Second
	defaultPublishTimeout = 10 * time.Second
	tracerName            = "github.com/JakeFAU/remote-jobs-crawler/internal/worker"
)

// Config controls Worker behavior.
type Config struct {
	// TaskTimeout bounds one source fetch; the task fails when it elapses.
	TaskTimeout time.Duration
	// PublishTimeout bounds one crawl-completed publish.
	PublishTimeout time.Duration
	// Topic names the publisher topic for crawl-completed notices.
	Topic string
	// SourceName labels crawl metrics.
	SourceName string
	// Tracer starts one span per task. Nil uses the global provider.
	Tracer trace.Tracer
}

// CrawlCompleted is published after every fresh crawl.
type CrawlCompleted struct {
	TaskID        string    `json:"task_id"`
	Term          string    `json:"term"`
	URL           string    `json:"url"`
	Jobs          int       `json:"jobs"`
	TotalReported int       `json:"total_reported"`
	FetchedAt     time.Time `json:"fetched_at"`
	Headless      bool      `json:"headless"`
}

// Attributes labels the notice for subscribers that filter by term.
func (c CrawlCompleted) Attributes() map[string]string {
	return map[string]string{"event": "crawl.completed", "term": c.Term}
}

// Worker consumes queued tasks and resolves each exactly once.
type Worker struct {
	queue     crawler.Queue
	limiter   crawler.Limiter
	cache     crawler.CacheStore
	source    crawler.JobSource
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	// pending tracks crawl-completed publishes still in flight.
	pending sync.WaitGroup
}

// New constructs a Worker. limiter and publisher may be nil.
func New(
	queue crawler.Queue,
	limiter crawler.Limiter,
	cache crawler.CacheStore,
	source crawler.JobSource,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.SourceName == "" {
		cfg.SourceName = "unknown"
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		limiter:   limiter,
		cache:     cache,
		source:    source,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Run blocks, consuming tasks until the context finishes or the queue closes.
// It returns once every publish it started has finished.
func (w *Worker) Run(ctx context.Context) {
	defer w.Wait()
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		metrics.SetQueueDepth(w.queue.Len())
		w.logger.Debug("dequeued task", zap.String("task_id", task.ID), zap.String("term", task.SearchTerm))
		w.handle(ctx, task)
	}
}

func (w *Worker) handle(ctx context.Context, task crawler.Task) {
	if w.limiter != nil {
		release, err := w.limiter.Acquire(ctx)
		if err != nil {
			task.Resolve(crawler.TaskResult{Err: fmt.Errorf("admit task %s: %w", task.ID, err)})
			return
		}
		defer release()
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	task.Resolve(w.Process(ctx, task))
}

// Wait blocks until every publish started by Process has finished.
func (w *Worker) Wait() {
	w.pending.Wait()
}

// Process runs one task: a cache hit is returned as-is, otherwise the source
// is fetched under the task timeout and a successful result is cached.
// The completion notice is published in the background so the result never
// waits on the publisher. Cache and publish failures are logged and never
// fail the task.
func (w *Worker) Process(ctx context.Context, task crawler.Task) crawler.TaskResult {
	ctx, span := w.cfg.Tracer.Start(ctx, "crawl.task", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("crawl.term", task.SearchTerm),
		attribute.String("crawl.source", w.cfg.SourceName),
	))
	defer span.End()

	res := w.process(ctx, task)
	span.SetAttributes(attribute.Bool("crawl.cache_hit", res.CacheHit))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "crawl failed")
	} else if !res.CacheHit {
		span.SetAttributes(attribute.Int("crawl.jobs", len(res.Entry.Jobs)))
	}
	return res
}

func (w *Worker) process(ctx context.Context, task crawler.Task) crawler.TaskResult {
	logger := w.logger.With(zap.String("task_id", task.ID), zap.String("term", task.SearchTerm))

	entry, hit, err := w.cache.Get(ctx, task.SearchTerm)
	if err != nil {
		logger.Warn("cache lookup failed; crawling", zap.Error(err))
	}
	if hit {
		logger.Debug("cache hit")
		return crawler.TaskResult{Entry: entry, CacheHit: true}
	}

	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancel()

	start := time.Now()
	crawl, err := w.source.Fetch(taskCtx, task.URL)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %w", crawler.ErrTaskTimeout, w.cfg.TaskTimeout, err)
		}
		metrics.ObserveCrawl(w.cfg.SourceName, "error", elapsed)
		logger.Error("crawl failed", zap.String("url", task.URL), zap.Duration("elapsed", elapsed), zap.Error(err))
		return crawler.TaskResult{Err: fmt.Errorf("crawl %q: %w", task.SearchTerm, err)}
	}
	metrics.ObserveCrawl(w.cfg.SourceName, "success", elapsed)

	entry = crawler.CacheEntry{
		Term:              task.SearchTerm,
		Jobs:              crawl.Jobs,
		TotalJobsReported: crawl.TotalReported,
		FetchedAt:         w.clock.Now(),
	}
	if entry.Jobs == nil {
		entry.Jobs = []crawler.JobRecord{}
	}
	if err := w.cache.Put(ctx, task.SearchTerm, entry); err != nil {
		logger.Warn("cache write failed", zap.Error(err))
	}
	logger.Info("crawl completed",
		zap.Int("jobs", len(entry.Jobs)),
		zap.Int("total_reported", entry.TotalJobsReported),
		zap.Bool("headless", crawl.UsedHeadless),
		zap.Duration("elapsed", elapsed),
	)
	w.publish(ctx, task, entry, crawl.UsedHeadless)
	return crawler.TaskResult{Entry: entry}
}

func (w *Worker) publish(ctx context.Context, task crawler.Task, entry crawler.CacheEntry, headless bool) {
	if w.publisher == nil {
		return
	}
	msg := CrawlCompleted{
		TaskID:        task.ID,
		Term:          task.SearchTerm,
		URL:           task.URL,
		Jobs:          len(entry.Jobs),
		TotalReported: entry.TotalJobsReported,
		FetchedAt:     entry.FetchedAt,
		Headless:      headless,
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.PublishTimeout)
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		defer cancel()
		id, err := w.publisher.Publish(pubCtx, w.cfg.Topic, msg)
		if err != nil {
			w.logger.Warn("publish crawl completion failed", zap.String("task_id", task.ID), zap.Error(err))
			return
		}
		w.logger.Debug("published crawl completion", zap.String("task_id", task.ID), zap.String("message_id", id))
	}()
}
