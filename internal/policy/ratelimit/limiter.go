// Package ratelimit gates crawl task starts with a minimum interval between
// consecutive starts and a ceiling on concurrently running tasks.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/remote-jobs-crawler/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// MinInterval is the minimum time between two task starts. 0 disables it.
	MinInterval time.Duration
	// MaxConcurrency caps tasks holding a slot at once. 0 means unlimited.
	MaxConcurrency int
}

// Limiter implements crawler.Limiter.
type Limiter struct {
	interval *rate.Limiter
	slots    chan struct{}
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Inf
	if cfg.MinInterval > 0 {
		r = rate.Every(cfg.MinInterval)
	}
	var slots chan struct{}
	if cfg.MaxConcurrency > 0 {
		slots = make(chan struct{}, cfg.MaxConcurrency)
	}
	return &Limiter{
		interval: rate.NewLimiter(r, 1),
		slots:    slots,
	}
}

// Acquire blocks until a concurrency slot is free and the interval since the
// previous start has elapsed. The returned release frees the slot and must
// be called exactly once.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	if l.slots != nil {
		select {
		case l.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("rate limit slot: %w", ctx.Err())
		}
	}
	if err := l.interval.Wait(ctx); err != nil {
		l.free()
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return l.free, nil
}

func (l *Limiter) free() {
	if l.slots == nil {
		return
	}
	select {
	case <-l.slots:
	default:
	}
}
