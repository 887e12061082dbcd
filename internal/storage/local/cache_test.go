package local_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/storage/local"
)

var fetchedAt = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func entry(term string, titleLen int) crawler.CacheEntry {
	return crawler.CacheEntry{
		Term: term,
		Jobs: []crawler.JobRecord{{
			Title:    strings.Repeat("x", titleLen),
			Company:  "Acme",
			Location: crawler.DefaultLocation,
			Tags:     []string{"go"},
			Link:     "https://remoteok.com/remote-jobs/1",
		}},
		TotalJobsReported: 42,
		FetchedAt:         fetchedAt,
	}
}

func sizeOf(t *testing.T, e crawler.CacheEntry) int64 {
	t.Helper()
	data, err := json.Marshal(e)
	require.NoError(t, err)
	return int64(len(data))
}

func openStore(t *testing.T, cfg local.Config, opts ...local.Option) *local.Store {
	t.Helper()
	store, err := local.Open(cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func diskUsage(t *testing.T, dir string) int64 {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	var total int64
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		total += info.Size()
	}
	return total
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestOpen(t *testing.T) {
	t.Run("CreatesDirectory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "cache")
		openStore(t, local.Config{Dir: dir})
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingDir", func(t *testing.T) {
		_, err := local.Open(local.Config{}, nil)
		assert.Error(t, err)
	})

	t.Run("DirIsAFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		_, err := local.Open(local.Config{Dir: path}, nil)
		assert.Error(t, err)
	})

	t.Run("DirectoryLocked", func(t *testing.T) {
		dir := t.TempDir()
		openStore(t, local.Config{Dir: dir})
		_, err := local.Open(local.Config{Dir: dir}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "in use")
	})
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t, local.Config{Dir: t.TempDir(), MaxBytes: 1 << 20})

	want := entry("backend", 10)
	require.NoError(t, store.Put(ctx, "backend", want))

	got, ok, err := store.Get(ctx, "backend")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok, err = store.Get(ctx, "Backend")
	require.NoError(t, err)
	assert.False(t, ok, "terms are case-sensitive")
}

func TestPutOverwritesTerm(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t, local.Config{Dir: t.TempDir()})

	require.NoError(t, store.Put(ctx, "go", entry("go", 10)))
	require.NoError(t, store.Put(ctx, "go", entry("go", 20)))

	got, ok, err := store.Get(ctx, "go")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Jobs[0].Title, 20)
	assert.Equal(t, 1, store.Stats().Entries)
	assert.Equal(t, sizeOf(t, entry("go", 20)), store.Stats().TotalBytes)
}

func TestEvictionKeepsSmallestEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	titleLens := map[string]int{"alpha": 400, "bravo": 100, "charlie": 300, "delta": 100, "echo": 200}
	order := []string{"alpha", "bravo", "charlie", "delta", "echo"}

	sizes := make(map[string]int64)
	for term, n := range titleLens {
		sizes[term] = sizeOf(t, entry(term, n))
	}
	budget := sizes["bravo"] + sizes["delta"] + sizes["echo"] + 10
	store := openStore(t, local.Config{Dir: dir, MaxBytes: budget})

	for _, term := range order {
		require.NoError(t, store.Put(ctx, term, entry(term, titleLens[term])))
		require.LessOrEqual(t, diskUsage(t, dir), budget)
	}

	infos, err := store.List(ctx)
	require.NoError(t, err)
	var kept []string
	for _, info := range infos {
		kept = append(kept, info.Term)
	}
	sort.Strings(kept)
	assert.Equal(t, []string{"bravo", "delta", "echo"}, kept)
	assert.Equal(t, diskUsage(t, dir), store.Stats().TotalBytes)
	assert.LessOrEqual(t, store.Stats().TotalBytes, budget)
}

func TestEqualSizesRetainEarlierWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	// Same-length terms give same-size entries.
	size := sizeOf(t, entry("t1", 50))
	store := openStore(t, local.Config{Dir: t.TempDir(), MaxBytes: 2*size + 5})

	for _, term := range []string{"t1", "t2", "t3"} {
		require.NoError(t, store.Put(ctx, term, entry(term, 50)))
	}
	_, ok, _ := store.Get(ctx, "t1")
	assert.True(t, ok)
	_, ok, _ = store.Get(ctx, "t2")
	assert.True(t, ok)
	_, ok, _ = store.Get(ctx, "t3")
	assert.False(t, ok)
}

func TestEntryLargerThanBudgetIsNotStored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t, local.Config{Dir: t.TempDir(), MaxBytes: 100})

	require.NoError(t, store.Put(ctx, "huge", entry("huge", 500)))
	_, ok, err := store.Get(ctx, "huge")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, store.Stats().TotalBytes)
}

func TestCorruptFileIsAMiss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store := openStore(t, local.Config{Dir: dir})

	require.NoError(t, store.Put(ctx, "devops", entry("devops", 10)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, local.FileName("devops")), []byte("{truncated"), 0o600))

	_, ok, err := store.Get(ctx, "devops")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMaxAgeExpiresEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := fixedClock{now: fetchedAt.Add(2 * time.Hour)}
	store := openStore(t, local.Config{Dir: t.TempDir(), MaxAge: time.Hour}, local.WithClock(clock))

	require.NoError(t, store.Put(ctx, "stale", entry("stale", 10)))
	fresh := entry("fresh", 10)
	fresh.FetchedAt = clock.now.Add(-time.Minute)
	require.NoError(t, store.Put(ctx, "fresh", fresh))

	_, ok, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, store.Stats().Entries)
}

func TestReopenRestoresIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := local.Open(local.Config{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "frontend", entry("frontend", 100)))
	require.NoError(t, store.Put(ctx, "backend", entry("backend", 10)))
	stats := store.Stats()
	require.NoError(t, store.Close())

	// Leftovers from an interrupted write are cleaned up.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-123"), []byte("partial"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage-0000000000000000.json"), []byte("nope"), 0o600))

	reopened := openStore(t, local.Config{Dir: dir})
	assert.Equal(t, stats, reopened.Stats())
	_, err = os.Stat(filepath.Join(dir, ".tmp-123"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "garbage-0000000000000000.json"))
	assert.True(t, os.IsNotExist(err))

	got, ok, err := reopened.Get(ctx, "frontend")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "frontend", got.Term)
}

func TestReopenWithSmallerBudgetTrims(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := local.Open(local.Config{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "big", entry("big", 500)))
	require.NoError(t, store.Put(ctx, "small", entry("small", 10)))
	require.NoError(t, store.Close())

	budget := sizeOf(t, entry("small", 10)) + 1
	reopened := openStore(t, local.Config{Dir: dir, MaxBytes: budget})
	require.NoError(t, reopened.EvictIfOverBudget(ctx))
	assert.Equal(t, 1, reopened.Stats().Entries)
	_, ok, _ := reopened.Get(ctx, "small")
	assert.True(t, ok)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t, local.Config{Dir: t.TempDir()})
	require.NoError(t, store.Put(ctx, "qa", entry("qa", 10)))
	require.NoError(t, store.Delete(ctx, "qa"))
	require.NoError(t, store.Delete(ctx, "qa"))
	_, ok, _ := store.Get(ctx, "qa")
	assert.False(t, ok)
	assert.Zero(t, store.Stats().TotalBytes)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store := openStore(t, local.Config{Dir: dir})
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Put(ctx, "term", entry("term", 10+i)))
	}
	tmp, err := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, tmp)
}

func TestFileName(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, local.FileName("c++"), local.FileName("c__"))
	assert.NotEqual(t, local.FileName("Go"), local.FileName("go"))
	assert.True(t, strings.HasPrefix(local.FileName("senior golang"), "senior_golang-"))

	name := local.FileName("../../etc/passwd")
	assert.NotContains(t, name, "/")
	assert.True(t, strings.HasSuffix(name, ".json"))
	assert.LessOrEqual(t, len(local.FileName(strings.Repeat("a", 500))), 64+1+16+len(".json"))
}
