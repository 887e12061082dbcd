// Package local implements the on-disk, size-bounded cache store. Each search
// term is one JSON file under the cache directory.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-jobs-crawler/internal/clock/system"
	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/metrics"
	"github.com/JakeFAU/remote-jobs-crawler/internal/storage"
)

const (
	fileSuffix    = ".json"
	tempPrefix    = ".tmp-"
	lockFileName  = ".lock"
	maxStemLength = 64
)

// Config captures the parameters for the disk cache.
type Config struct {
	// Dir is the directory holding one file per search term.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxBytes is the budget for the sum of all entry sizes. 0 disables eviction.
	MaxBytes int64 `mapstructure:"max_bytes" yaml:"max_bytes"`
	// MaxAge expires entries older than this. 0 disables expiry.
	MaxAge time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the clock used for expiry checks.
func WithClock(clock crawler.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// Store implements crawler.CacheStore on the local filesystem.
type Store struct {
	dir    string
	maxAge time.Duration
	lock   *flock.Flock
	clock  crawler.Clock
	logger *zap.Logger

	mu    sync.Mutex
	index *storage.SizeIndex
	terms map[string]string
}

// Open prepares dir, takes the directory lock, and indexes existing entries.
func Open(cfg Config, logger *zap.Logger, opts ...Option) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if cfg.MaxBytes < 0 {
		return nil, fmt.Errorf("cache max bytes must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ensureWritableDir(cfg.Dir); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(cfg.Dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock cache directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("cache directory %s is in use by another process", cfg.Dir)
	}

	s := &Store{
		dir:    cfg.Dir,
		maxAge: cfg.MaxAge,
		lock:   lock,
		clock:  system.New(),
		logger: logger.Named("cache"),
		index:  storage.NewSizeIndex(cfg.MaxBytes),
		terms:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.scan(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	s.mu.Lock()
	s.trimLocked()
	s.mu.Unlock()
	return s, nil
}

// Get returns the cached entry for term. Unreadable or expired entries are
// reported as misses.
func (s *Store) Get(ctx context.Context, term string) (crawler.CacheEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return crawler.CacheEntry{}, false, fmt.Errorf("cache get: %w", err)
	}
	name := FileName(term)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index.Size(name); !ok {
		return crawler.CacheEntry{}, false, nil
	}
	entry, err := s.readLocked(name)
	if err != nil {
		s.logger.Warn("cache entry unreadable; treating as miss", zap.String("term", term), zap.Error(err))
		metrics.ObserveCacheError("read")
		return crawler.CacheEntry{}, false, nil
	}
	if entry.Term != term {
		return crawler.CacheEntry{}, false, nil
	}
	if s.expired(entry) {
		s.logger.Debug("cache entry expired", zap.String("term", term), zap.Time("fetched_at", entry.FetchedAt))
		s.removeLocked(name, "expired")
		return crawler.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Put writes entry under term, evicting other entries first when the write
// would exceed the budget. An entry that is itself the largest candidate is
// dropped together with any older entry for the same term.
func (s *Store) Put(ctx context.Context, term string, entry crawler.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	entry.Term = term
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w: %w", crawler.ErrCache, err)
	}
	name := FileName(term)

	s.mu.Lock()
	defer s.mu.Unlock()

	plan := s.index.PlanWrite(name, int64(len(data)))
	for _, victim := range plan.Evict {
		s.logger.Info("evicting cache entry", zap.String("term", s.terms[victim]), zap.String("reason", "budget"))
		s.removeLocked(victim, "budget")
	}
	if !plan.Admit {
		s.logger.Warn("cache entry not admitted; larger than every other candidate",
			zap.String("term", term),
			zap.Int("bytes", len(data)),
			zap.Int64("budget", s.index.Budget()),
		)
		s.removeLocked(name, "rejected")
		return nil
	}

	if err := s.writeAtomic(name, data); err != nil {
		metrics.ObserveCacheError("write")
		return fmt.Errorf("write cache entry: %w: %w", crawler.ErrCache, err)
	}
	s.index.Set(name, int64(len(data)))
	s.terms[name] = term
	s.reportUsage()
	return nil
}

// Delete removes the entry for term if present.
func (s *Store) Delete(_ context.Context, term string) error {
	name := FileName(term)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index.Size(name); !ok {
		return nil
	}
	return s.deleteFileLocked(name)
}

// EvictIfOverBudget evicts largest entries until the total fits the budget.
func (s *Store) EvictIfOverBudget(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cache evict: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trimLocked()
	return nil
}

// List describes every entry, oldest write first.
func (s *Store) List(ctx context.Context) ([]crawler.CacheInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("cache list: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.index.Keys()
	out := make([]crawler.CacheInfo, 0, len(keys))
	for _, name := range keys {
		size, _ := s.index.Size(name)
		info := crawler.CacheInfo{Term: s.terms[name], Bytes: size}
		if st, err := os.Stat(s.path(name)); err == nil {
			info.UpdatedAt = st.ModTime().UTC()
		}
		out = append(out, info)
	}
	return out, nil
}

// Stats reports the current occupancy.
func (s *Store) Stats() crawler.CacheStats {
	return crawler.CacheStats{
		Entries:     s.index.Len(),
		TotalBytes:  s.index.Total(),
		BudgetBytes: s.index.Budget(),
	}
}

// Close releases the directory lock.
func (s *Store) Close() error {
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock cache directory: %w", err)
	}
	return nil
}

// FileName maps a term to its cache file name. The readable stem keeps
// directory listings useful; the hash suffix keeps distinct terms apart.
func FileName(term string) string {
	sum := sha256.Sum256([]byte(term))
	return sanitize(term) + "-" + hex.EncodeToString(sum[:])[:16] + fileSuffix
}

func sanitize(term string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(term) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxStemLength {
			break
		}
	}
	if b.Len() == 0 {
		return "term"
	}
	return b.String()
}

func (s *Store) trimLocked() {
	for _, victim := range s.index.PlanTrim() {
		s.logger.Info("evicting cache entry", zap.String("term", s.terms[victim]), zap.String("reason", "budget"))
		s.removeLocked(victim, "budget")
	}
}

// removeLocked drops an entry, logging rather than failing on I/O errors.
func (s *Store) removeLocked(name, reason string) {
	if _, ok := s.index.Size(name); !ok {
		return
	}
	if err := s.deleteFileLocked(name); err != nil {
		s.logger.Warn("failed to remove cache entry", zap.String("file", name), zap.Error(err))
		return
	}
	metrics.ObserveCacheEviction(reason)
}

func (s *Store) deleteFileLocked(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		metrics.ObserveCacheError("delete")
		return fmt.Errorf("remove cache file: %w: %w", crawler.ErrCache, err)
	}
	s.index.Remove(name)
	delete(s.terms, name)
	s.reportUsage()
	return nil
}

func (s *Store) readLocked(name string) (crawler.CacheEntry, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return crawler.CacheEntry{}, fmt.Errorf("read cache file: %w", err)
	}
	var entry crawler.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return crawler.CacheEntry{}, fmt.Errorf("decode cache file: %w", err)
	}
	return entry, nil
}

// writeAtomic writes to a temp file in the same directory, syncs, and
// renames over the destination so readers never see a partial file.
func (s *Store) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// scan rebuilds the size index from disk, oldest file first so write order
// survives a restart.
func (s *Store) scan() error {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read cache directory: %w", err)
	}

	type found struct {
		name    string
		size    int64
		modTime time.Time
	}
	var files []found
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || name == lockFileName {
			continue
		}
		if strings.HasPrefix(name, tempPrefix) {
			_ = os.Remove(s.path(name))
			continue
		}
		if !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, found{name: name, size: info.Size(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].name < files[j].name
		}
		return files[i].modTime.Before(files[j].modTime)
	})

	for _, f := range files {
		entry, err := s.readLocked(f.name)
		if err != nil || FileName(entry.Term) != f.name {
			s.logger.Warn("removing unreadable cache file", zap.String("file", f.name), zap.Error(err))
			metrics.ObserveCacheError("scan")
			_ = os.Remove(s.path(f.name))
			continue
		}
		s.index.Set(f.name, f.size)
		s.terms[f.name] = entry.Term
	}
	s.reportUsage()
	s.logger.Debug("cache index loaded",
		zap.String("dir", s.dir),
		zap.Int("entries", s.index.Len()),
		zap.Int64("bytes", s.index.Total()),
	)
	return nil
}

func (s *Store) expired(entry crawler.CacheEntry) bool {
	if s.maxAge <= 0 || entry.FetchedAt.IsZero() {
		return false
	}
	return s.clock.Now().Sub(entry.FetchedAt) > s.maxAge
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

func (s *Store) reportUsage() {
	metrics.SetCacheUsage(s.index.Len(), s.index.Total())
}

func ensureWritableDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat cache directory: %w", err)
		}
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return fmt.Errorf("failed to create cache directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return fmt.Errorf("cache directory path is not a directory")
	}

	testFile := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("cache directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return fmt.Errorf("failed to clean up test file: %w", err)
	}
	return nil
}
