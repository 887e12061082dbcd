package crawler

import (
	"context"
	"time"
)

// CacheStore persists the latest crawl per search term under a size budget.
type CacheStore interface {
	Get(ctx context.Context, term string) (CacheEntry, bool, error)
	Put(ctx context.Context, term string, entry CacheEntry) error
	Delete(ctx context.Context, term string) error
	EvictIfOverBudget(ctx context.Context) error
	List(ctx context.Context) ([]CacheInfo, error)
	Stats() CacheStats
	Close() error
}

// Renderer drives a browser to a URL and returns the settled markup.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
}

// Fetcher performs a plain HTTP fetch without executing JavaScript.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// JobSource obtains job records for a search URL.
type JobSource interface {
	Fetch(ctx context.Context, rawURL string) (Crawl, error)
}

// HeadlessDetector decides whether a static page should be re-fetched with a browser.
type HeadlessDetector interface {
	ShouldPromote(page Page) bool
}

// Queue provides FIFO enqueue/dequeue semantics for crawl tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
	Len() int
}

// Limiter gates the start of each task.
type Limiter interface {
	Acquire(ctx context.Context) (func(), error)
}

// Publisher pushes crawl completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication and file naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs.
type IDGenerator interface {
	NewID() (string, error)
}
