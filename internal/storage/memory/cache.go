// Package memory provides an in-memory cache store for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/storage"
)

// Cache implements crawler.CacheStore in memory with the same size budget
// and eviction order as the disk store. Sizes are JSON-encoded sizes.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]stored
	index   *storage.SizeIndex
	maxAge  time.Duration
	now     func() time.Time
}

type stored struct {
	entry     crawler.CacheEntry
	updatedAt time.Time
}

// NewCache creates an in-memory cache. maxBytes <= 0 disables eviction and
// maxAge <= 0 disables expiry.
func NewCache(maxBytes int64, maxAge time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]stored),
		index:   storage.NewSizeIndex(maxBytes),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Get returns the entry for term.
func (c *Cache) Get(_ context.Context, term string) (crawler.CacheEntry, bool, error) {
	c.mu.RLock()
	s, ok := c.entries[term]
	c.mu.RUnlock()
	if !ok {
		return crawler.CacheEntry{}, false, nil
	}
	if !c.expired(s.entry) {
		return cloneEntry(s.entry), true, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A Put may have replaced the stale entry since the read lock was dropped.
	s, ok = c.entries[term]
	if ok && !c.expired(s.entry) {
		return cloneEntry(s.entry), true, nil
	}
	c.removeLocked(term)
	return crawler.CacheEntry{}, false, nil
}

func (c *Cache) expired(entry crawler.CacheEntry) bool {
	return c.maxAge > 0 && !entry.FetchedAt.IsZero() && c.now().Sub(entry.FetchedAt) > c.maxAge
}

// Put stores entry under term, evicting largest entries first when needed.
func (c *Cache) Put(_ context.Context, term string, entry crawler.CacheEntry) error {
	entry.Term = term
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w: %w", crawler.ErrCache, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	plan := c.index.PlanWrite(term, int64(len(data)))
	for _, victim := range plan.Evict {
		c.removeLocked(victim)
	}
	if !plan.Admit {
		c.removeLocked(term)
		return nil
	}
	c.entries[term] = stored{entry: cloneEntry(entry), updatedAt: c.now().UTC()}
	c.index.Set(term, int64(len(data)))
	return nil
}

// Delete removes term.
func (c *Cache) Delete(_ context.Context, term string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(term)
	return nil
}

// EvictIfOverBudget evicts largest entries until the total fits the budget.
func (c *Cache) EvictIfOverBudget(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, victim := range c.index.PlanTrim() {
		c.removeLocked(victim)
	}
	return nil
}

// List describes every entry, oldest write first.
func (c *Cache) List(_ context.Context) ([]crawler.CacheInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := c.index.Keys()
	out := make([]crawler.CacheInfo, 0, len(keys))
	for _, term := range keys {
		size, _ := c.index.Size(term)
		out = append(out, crawler.CacheInfo{Term: term, Bytes: size, UpdatedAt: c.entries[term].updatedAt})
	}
	return out, nil
}

// Stats reports the current occupancy.
func (c *Cache) Stats() crawler.CacheStats {
	return crawler.CacheStats{
		Entries:     c.index.Len(),
		TotalBytes:  c.index.Total(),
		BudgetBytes: c.index.Budget(),
	}
}

// Close is a no-op.
func (c *Cache) Close() error {
	return nil
}

func (c *Cache) removeLocked(term string) {
	delete(c.entries, term)
	c.index.Remove(term)
}

func cloneEntry(e crawler.CacheEntry) crawler.CacheEntry {
	jobs := make([]crawler.JobRecord, len(e.Jobs))
	for i, j := range e.Jobs {
		j.Tags = slices.Clone(j.Tags)
		jobs[i] = j
	}
	e.Jobs = jobs
	return e
}
