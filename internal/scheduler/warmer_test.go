package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
)

type fakeSearcher struct {
	mu    sync.Mutex
	terms []string
	fail  map[string]bool
}

func (f *fakeSearcher) Search(_ context.Context, q crawler.SearchQuery) (crawler.JobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terms = append(f.terms, q.Term)
	if f.fail[q.Term] {
		return crawler.EmptyResult(), errors.New("render failed")
	}
	return crawler.JobResult{Jobs: []crawler.JobRecord{}, FromCache: true}, nil
}

func (f *fakeSearcher) Terms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.terms...)
}

func TestRunOnceSearchesEveryTerm(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{fail: map[string]bool{"rust": true}}
	w := New(searcher, Config{Schedule: "@every 1h", Terms: []string{"golang", "rust", "design"}}, zap.NewNop())

	warmed, failed := w.RunOnce(context.Background())
	assert.Equal(t, 2, warmed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{"golang", "rust", "design"}, searcher.Terms())
}

func TestRunOnceStopsWhenContextEnds(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{}
	w := New(searcher, Config{Terms: []string{"a", "b"}}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	warmed, failed := w.RunOnce(ctx)
	assert.Zero(t, warmed)
	assert.Equal(t, 2, failed)
	assert.Empty(t, searcher.Terms())
}

func TestStartRunsOnSchedule(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{}
	w := New(searcher, Config{Schedule: "@every 1s", Terms: []string{"golang"}, RunOnStart: true}, zap.NewNop())
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { w.Stop(context.Background()) })

	require.Eventually(t, func() bool { return len(searcher.Terms()) >= 1 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(searcher.Terms()) >= 2 }, 3*time.Second, 50*time.Millisecond)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	w := New(&fakeSearcher{}, Config{Schedule: "every so often", Terms: []string{"golang"}}, zap.NewNop())
	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `schedule warmer "every so often"`)
}

func TestStartDisabledWithoutTerms(t *testing.T) {
	t.Parallel()

	w := New(&fakeSearcher{}, Config{Schedule: "not parsed"}, zap.NewNop())
	assert.False(t, w.Enabled())
	require.NoError(t, w.Start(context.Background()))
	w.Stop(context.Background())
}

func TestStartWarnsWhenCacheNeverExpires(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		maxAge time.Duration
		warns  int
	}{
		{"no expiry", 0, 1},
		{"expiring", time.Hour, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.WarnLevel)
			w := New(&fakeSearcher{}, Config{
				Schedule:    "@every 1h",
				Terms:       []string{"golang"},
				CacheMaxAge: tt.maxAge,
			}, zap.New(core))
			require.NoError(t, w.Start(context.Background()))
			w.Stop(context.Background())

			assert.Equal(t, tt.warns, logs.FilterMessageSnippet("cache.max_age").Len())
		})
	}
}
