// Package dispatcher manages worker fan-out over the task queue and hands
// callers a handle for every submitted crawl.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/metrics"
	"github.com/JakeFAU/remote-jobs-crawler/internal/worker"
)

// Queue is a crawler.Queue that can be closed and drained on shutdown.
type Queue interface {
	crawler.Queue
	Close()
	Drain() []crawler.Task
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
	ids     crawler.IDGenerator
	clock   crawler.Clock
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Dispatcher.
func New(
	queue Queue,
	workers []*worker.Worker,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		ids:     ids,
		clock:   clock,
		logger:  logger.Named("dispatcher"),
	}
}

// Pending is the caller's handle on a submitted task.
type Pending struct {
	task crawler.Task
}

// ID returns the task identifier.
func (p *Pending) ID() string {
	return p.task.ID
}

// Wait blocks until the task resolves or ctx finishes. Abandoning the wait
// does not cancel the task; it still completes and is cached.
func (p *Pending) Wait(ctx context.Context) (crawler.CacheEntry, bool, error) {
	select {
	case res := <-p.task.Result:
		return res.Entry, res.CacheHit, res.Err
	case <-ctx.Done():
		return crawler.CacheEntry{}, false, fmt.Errorf("wait for task %s: %w", p.task.ID, ctx.Err())
	}
}

// Submit enqueues a crawl of rawURL for term.
func (d *Dispatcher) Submit(ctx context.Context, term, rawURL string) (*Pending, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate task id: %w", err)
	}
	task := crawler.NewTask(id, term, rawURL, d.clock.Now())
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("queue enqueue: %w", err)
	}
	metrics.SetQueueDepth(d.queue.Len())
	d.logger.Debug("task submitted",
		zap.String("task_id", id),
		zap.String("term", term),
		zap.Int("queue_depth", d.queue.Len()),
	)
	return &Pending{task: task}, nil
}

// Run starts all workers and blocks until they stop, either because ctx
// finished or Close was called. Tasks still queued afterwards are rejected.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(len(d.workers))
	d.mu.Unlock()

	d.logger.Info("starting workers", zap.Int("workers", len(d.workers)))
	for _, w := range d.workers {
		go func(wk *worker.Worker) {
			defer d.wg.Done()
			wk.Run(ctx)
		}(w)
	}
	d.wg.Wait()

	d.queue.Close()
	d.reject()
	d.logger.Info("workers stopped")
}

// Close stops accepting tasks, rejects every queued task with
// crawler.ErrQueueClosed, and waits for in-flight tasks to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.queue.Close()
	d.reject()
	d.wg.Wait()
	d.reject()
}

func (d *Dispatcher) reject() {
	tasks := d.queue.Drain()
	for _, task := range tasks {
		task.Resolve(crawler.TaskResult{
			Err: fmt.Errorf("task %s: %w", task.ID, crawler.ErrQueueClosed),
		})
	}
	if len(tasks) > 0 {
		d.logger.Warn("rejected queued tasks on shutdown", zap.Int("tasks", len(tasks)))
	}
	metrics.SetQueueDepth(d.queue.Len())
}
