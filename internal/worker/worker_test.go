package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	pubmemory "github.com/JakeFAU/remote-jobs-crawler/internal/publisher/memory"
	queuememory "github.com/JakeFAU/remote-jobs-crawler/internal/queue/memory"
	cachememory "github.com/JakeFAU/remote-jobs-crawler/internal/storage/memory"
)

const searchURL = "https://remoteok.com/remote-golang-jobs"

type fakeSource struct {
	mu    sync.Mutex
	calls int
	crawl crawler.Crawl
	err   error
	block bool
}

func (s *fakeSource) Fetch(ctx context.Context, _ string) (crawler.Crawl, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return crawler.Crawl{}, &crawler.RenderError{URL: searchURL, Err: ctx.Err()}
	}
	return s.crawl, s.err
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type failingCache struct {
	crawler.CacheStore
}

func (failingCache) Get(context.Context, string) (crawler.CacheEntry, bool, error) {
	return crawler.CacheEntry{}, false, crawler.ErrCache
}

func (failingCache) Put(context.Context, string, crawler.CacheEntry) error {
	return crawler.ErrCache
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("pubsub unavailable")
}

// stallingPublisher blocks until its context ends or release is closed.
type stallingPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	err     error
}

func (p *stallingPublisher) Publish(ctx context.Context, _ string, _ any) (string, error) {
	select {
	case <-ctx.Done():
		p.mu.Lock()
		p.err = ctx.Err()
		p.mu.Unlock()
		return "", ctx.Err()
	case <-p.release:
		return "msg-1", nil
	}
}

func (p *stallingPublisher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

type deniedLimiter struct{}

func (deniedLimiter) Acquire(context.Context) (func(), error) {
	return nil, errors.New("limiter closed")
}

var now = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func jobs(titles ...string) []crawler.JobRecord {
	out := make([]crawler.JobRecord, 0, len(titles))
	for _, title := range titles {
		out = append(out, crawler.JobRecord{
			Title: title, Company: "Acme", Location: crawler.DefaultLocation,
			Tags: []string{}, Link: "https://remoteok.com/remote-jobs/" + title,
		})
	}
	return out
}

func newTask(id string) crawler.Task {
	return crawler.NewTask(id, "golang", searchURL, now)
}

func TestProcessCacheHitSkipsSource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := cachememory.NewCache(0, 0)
	cached := crawler.CacheEntry{Term: "golang", Jobs: jobs("a"), TotalJobsReported: 9, FetchedAt: now}
	require.NoError(t, cache.Put(ctx, "golang", cached))
	source := &fakeSource{}

	w := New(nil, nil, cache, source, nil, fakeClock{now}, Config{}, zap.NewNop())
	res := w.Process(ctx, newTask("t1"))

	require.NoError(t, res.Err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, cached, res.Entry)
	assert.Zero(t, source.Calls())
}

func TestProcessMissCrawlsCachesAndPublishes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := cachememory.NewCache(0, 0)
	source := &fakeSource{crawl: crawler.Crawl{Jobs: jobs("a", "b"), TotalReported: 120, UsedHeadless: true}}
	pub := pubmemory.New()

	w := New(nil, nil, cache, source, pub, fakeClock{now}, Config{Topic: "crawls"}, zap.NewNop())
	res := w.Process(ctx, newTask("t1"))

	require.NoError(t, res.Err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, 120, res.Entry.TotalJobsReported)
	assert.Equal(t, now, res.Entry.FetchedAt)
	assert.Len(t, res.Entry.Jobs, 2)

	stored, ok, err := cache.Get(ctx, "golang")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Entry, stored)

	w.Wait()
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "crawls", msgs[0].Topic)
	completed, ok := msgs[0].Payload.(CrawlCompleted)
	require.True(t, ok)
	assert.Equal(t, "golang", completed.Term)
	assert.Equal(t, 2, completed.Jobs)
	assert.True(t, completed.Headless)
}

func TestProcessSourceFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := cachememory.NewCache(0, 0)
	source := &fakeSource{err: &crawler.FetchError{URL: searchURL, StatusCode: 503}}

	w := New(nil, nil, cache, source, nil, fakeClock{now}, Config{}, zap.NewNop())
	res := w.Process(ctx, newTask("t1"))

	require.ErrorIs(t, res.Err, crawler.ErrFetch)
	assert.Empty(t, res.Entry.Jobs)
	assert.Zero(t, cache.Stats().Entries)
}

func TestProcessTaskTimeout(t *testing.T) {
	t.Parallel()

	source := &fakeSource{block: true}
	w := New(nil, nil, cachememory.NewCache(0, 0), source, nil, fakeClock{now},
		Config{TaskTimeout: 30 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	res := w.Process(context.Background(), newTask("t1"))
	require.ErrorIs(t, res.Err, crawler.ErrTaskTimeout)
	require.ErrorIs(t, res.Err, crawler.ErrRender)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProcessSwallowsCacheAndPublishFailures(t *testing.T) {
	t.Parallel()

	source := &fakeSource{crawl: crawler.Crawl{Jobs: jobs("a")}}
	w := New(nil, nil, failingCache{}, source, failingPublisher{}, fakeClock{now}, Config{}, zap.NewNop())

	res := w.Process(context.Background(), newTask("t1"))
	require.NoError(t, res.Err)
	assert.Len(t, res.Entry.Jobs, 1)
	assert.Equal(t, 1, source.Calls())
}

func TestProcessDoesNotWaitForPublisher(t *testing.T) {
	t.Parallel()

	source := &fakeSource{crawl: crawler.Crawl{Jobs: jobs("a")}}
	pub := &stallingPublisher{release: make(chan struct{})}
	w := New(nil, nil, cachememory.NewCache(0, 0), source, pub, fakeClock{now},
		Config{TaskTimeout: 100 * time.Millisecond, PublishTimeout: time.Minute}, zap.NewNop())

	start := time.Now()
	res := w.Process(context.Background(), newTask("t1"))
	require.NoError(t, res.Err)
	assert.Less(t, time.Since(start), time.Second)

	close(pub.release)
	w.Wait()
	assert.NoError(t, pub.Err())
}

func TestPublishIsBoundedByPublishTimeout(t *testing.T) {
	t.Parallel()

	source := &fakeSource{crawl: crawler.Crawl{Jobs: jobs("a")}}
	pub := &stallingPublisher{release: make(chan struct{})}
	w := New(nil, nil, cachememory.NewCache(0, 0), source, pub, fakeClock{now},
		Config{PublishTimeout: 20 * time.Millisecond}, zap.NewNop())

	require.NoError(t, w.Process(context.Background(), newTask("t1")).Err)

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stalled publish was not abandoned")
	}
	assert.ErrorIs(t, pub.Err(), context.DeadlineExceeded)
}

func TestRunResolvesQueuedTasks(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(4)
	source := &fakeSource{crawl: crawler.Crawl{Jobs: jobs("a")}}
	w := New(queue, nil, cachememory.NewCache(0, 0), source, nil, fakeClock{now}, Config{}, zap.NewNop())

	first, second := newTask("t1"), newTask("t2")
	require.NoError(t, queue.Enqueue(context.Background(), first))
	require.NoError(t, queue.Enqueue(context.Background(), second))

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	res := <-first.Result
	require.NoError(t, res.Err)
	assert.False(t, res.CacheHit)
	res = <-second.Result
	require.NoError(t, res.Err)
	assert.True(t, res.CacheHit, "second task for the same term is served from cache")
	assert.Equal(t, 1, source.Calls())

	queue.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestRunResolvesLimiterFailure(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(1)
	source := &fakeSource{}
	w := New(queue, deniedLimiter{}, cachememory.NewCache(0, 0), source, nil, fakeClock{now}, Config{}, zap.NewNop())

	task := newTask("t1")
	require.NoError(t, queue.Enqueue(context.Background(), task))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case res := <-task.Result:
		require.Error(t, res.Err)
		assert.Contains(t, res.Err.Error(), "limiter closed")
	case <-time.After(time.Second):
		t.Fatal("task was not resolved")
	}
	assert.Zero(t, source.Calls())
}

func TestProcessRecordsSpans(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	cfg := Config{Tracer: tp.Tracer("worker-test"), SourceName: "static"}

	ok := &fakeSource{crawl: crawler.Crawl{Jobs: []crawler.JobRecord{{Title: "Go", Company: "Acme", Link: "https://x/1"}}}}
	w := New(nil, nil, cachememory.NewCache(0, 0), ok, nil, fakeClock{now}, cfg, zap.NewNop())
	require.NoError(t, w.Process(context.Background(), newTask("t1")).Err)

	failing := &fakeSource{err: &crawler.FetchError{URL: searchURL, StatusCode: 500}}
	w = New(nil, nil, cachememory.NewCache(0, 0), failing, nil, fakeClock{now}, cfg, zap.NewNop())
	require.Error(t, w.Process(context.Background(), newTask("t2")).Err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "crawl.task", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.NotEmpty(t, spans[1].Events())
}
