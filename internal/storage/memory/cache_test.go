package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
)

func sample(term, title string) crawler.CacheEntry {
	return crawler.CacheEntry{
		Term: term,
		Jobs: []crawler.JobRecord{{
			Title: title, Company: "Acme", Location: crawler.DefaultLocation,
			Tags: []string{"go"}, Link: "https://remoteok.com/remote-jobs/1",
		}},
		TotalJobsReported: 3,
		FetchedAt:         time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCache(0, 0)
	want := sample("backend", "Go Engineer")
	require.NoError(t, c.Put(ctx, "backend", want))

	got, ok, err := c.Get(ctx, "backend")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	got.Jobs[0].Tags[0] = "mutated"
	again, _, _ := c.Get(ctx, "backend")
	assert.Equal(t, "go", again.Jobs[0].Tags[0], "Get returns a copy")
}

func TestCacheEvictsLargestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	small := sample("a", "x")
	large := sample("b", "a much longer title that makes this entry bigger")
	c := NewCache(0, 0)
	require.NoError(t, c.Put(ctx, "a", small))
	smallSize := c.Stats().TotalBytes

	c = NewCache(smallSize*2+5, 0)
	require.NoError(t, c.Put(ctx, "b", large))
	require.NoError(t, c.Put(ctx, "a", small))
	require.NoError(t, c.Put(ctx, "c", sample("c", "x")))

	_, ok, _ := c.Get(ctx, "b")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "a")
	assert.True(t, ok)
	_, ok, _ = c.Get(ctx, "c")
	assert.True(t, ok)
	assert.LessOrEqual(t, c.Stats().TotalBytes, c.Stats().BudgetBytes)
}

func TestCacheMaxAge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCache(0, time.Hour)
	c.now = func() time.Time { return time.Date(2026, 5, 1, 2, 0, 0, 0, time.UTC) }
	require.NoError(t, c.Put(ctx, "old", sample("old", "x")))

	_, ok, err := c.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c.Stats().Entries)
}

func TestCacheExpiryKeepsConcurrentlyRefreshedEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := time.Date(2026, 5, 1, 2, 0, 0, 0, time.UTC)
	c := NewCache(0, time.Hour)
	require.NoError(t, c.Put(ctx, "golang", sample("golang", "stale")))

	fresh := sample("golang", "fresh")
	fresh.FetchedAt = clock
	refreshed := false
	c.now = func() time.Time {
		// The first expiry check runs without the lock; a crawl lands here.
		if !refreshed {
			refreshed = true
			require.NoError(t, c.Put(ctx, "golang", fresh))
		}
		return clock
	}

	got, ok, err := c.Get(ctx, "golang")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fresh", got.Jobs[0].Title)

	got, ok, err = c.Get(ctx, "golang")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, clock, got.FetchedAt)
}

func TestCacheListAndDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCache(0, 0)
	require.NoError(t, c.Put(ctx, "first", sample("first", "x")))
	require.NoError(t, c.Put(ctx, "second", sample("second", "y")))

	infos, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "first", infos[0].Term)
	assert.Equal(t, "second", infos[1].Term)

	require.NoError(t, c.Delete(ctx, "first"))
	assert.Equal(t, 1, c.Stats().Entries)
	require.NoError(t, c.EvictIfOverBudget(ctx))
	require.NoError(t, c.Close())
}
