// Package memory provides the in-process FIFO task queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
)

// Queue is a bounded in-memory FIFO with context-aware operations. After
// Close, Enqueue and Dequeue fail with crawler.ErrQueueClosed and the tasks
// still buffered can be taken with Drain.
type Queue struct {
	ch        chan crawler.Task
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan crawler.Task, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a task, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, task crawler.Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("enqueue: %w", crawler.ErrQueueClosed)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return fmt.Errorf("enqueue: %w", crawler.ErrQueueClosed)
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.Task, error) {
	select {
	case <-q.done:
		return crawler.Task{}, fmt.Errorf("dequeue: %w", crawler.ErrQueueClosed)
	default:
	}
	select {
	case <-ctx.Done():
		return crawler.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return crawler.Task{}, fmt.Errorf("dequeue: %w", crawler.ErrQueueClosed)
	case task := <-q.ch:
		return task, nil
	}
}

// Len returns the number of buffered tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. Once it returns no further task can be enqueued.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Drain removes and returns every buffered task without blocking.
func (q *Queue) Drain() []crawler.Task {
	var out []crawler.Task
	for {
		select {
		case task := <-q.ch:
			out = append(out, task)
		default:
			return out
		}
	}
}
