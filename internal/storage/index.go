// Package storage holds the size accounting shared by the cache backends.
package storage

import (
	"sort"
	"sync"
)

// SizeIndex tracks the serialized size of every cached entry and the order
// in which entries were written. It keeps a running total so eviction never
// needs to rescan the backing store. SizeIndex is safe for concurrent use.
type SizeIndex struct {
	mu      sync.Mutex
	budget  int64
	total   int64
	seq     uint64
	entries map[string]indexEntry
}

type indexEntry struct {
	size int64
	seq  uint64
}

// Plan is the outcome of fitting one write into the budget.
type Plan struct {
	// Evict lists the keys to remove, in eviction order.
	Evict []string
	// Admit is false when the incoming entry is itself evicted.
	Admit bool
}

// NewSizeIndex returns an empty index. A budget <= 0 disables eviction.
func NewSizeIndex(budget int64) *SizeIndex {
	return &SizeIndex{
		budget:  budget,
		entries: make(map[string]indexEntry),
	}
}

// Set records that key now occupies size bytes and was written last.
func (i *SizeIndex) Set(key string, size int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if old, ok := i.entries[key]; ok {
		i.total -= old.size
	}
	i.seq++
	i.entries[key] = indexEntry{size: size, seq: i.seq}
	i.total += size
}

// Remove forgets key. It reports whether the key was present.
func (i *SizeIndex) Remove(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	old, ok := i.entries[key]
	if !ok {
		return false
	}
	i.total -= old.size
	delete(i.entries, key)
	return true
}

// Size returns the recorded size of key.
func (i *SizeIndex) Size(key string) (int64, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	e, ok := i.entries[key]
	return e.size, ok
}

// Total returns the sum of all recorded sizes.
func (i *SizeIndex) Total() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.total
}

// Len returns the number of recorded keys.
func (i *SizeIndex) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.entries)
}

// Budget returns the configured byte budget.
func (i *SizeIndex) Budget() int64 {
	return i.budget
}

// Keys returns the recorded keys in write order, oldest first.
func (i *SizeIndex) Keys() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	keys := make([]string, 0, len(i.entries))
	for k := range i.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		return i.entries[keys[a]].seq < i.entries[keys[b]].seq
	})
	return keys
}

type candidate struct {
	key      string
	size     int64
	seq      uint64
	incoming bool
}

// PlanWrite decides which entries must go so that writing size bytes under
// key stays within budget. Candidates are evicted largest first; among equal
// sizes the most recently written goes first. The incoming entry is the most
// recent candidate, so when it is the largest it is not admitted. An entry
// larger than the whole budget is never admitted.
func (i *SizeIndex) PlanWrite(key string, size int64) Plan {
	i.mu.Lock()
	defer i.mu.Unlock()

	projected := i.total + size
	if old, ok := i.entries[key]; ok {
		projected -= old.size
	}
	if i.budget <= 0 || projected <= i.budget {
		return Plan{Admit: true}
	}

	candidates := i.candidatesLocked(key)
	candidates = append(candidates, candidate{key: key, size: size, seq: i.seq + 1, incoming: true})
	sortLargestFirst(candidates)

	plan := Plan{Admit: true}
	for _, c := range candidates {
		if projected <= i.budget {
			break
		}
		projected -= c.size
		if c.incoming {
			plan.Admit = false
			continue
		}
		plan.Evict = append(plan.Evict, c.key)
	}
	return plan
}

// PlanTrim lists the keys to evict so the current total fits the budget.
func (i *SizeIndex) PlanTrim() []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.budget <= 0 || i.total <= i.budget {
		return nil
	}
	candidates := i.candidatesLocked("")
	sortLargestFirst(candidates)

	projected := i.total
	var evict []string
	for _, c := range candidates {
		if projected <= i.budget {
			break
		}
		projected -= c.size
		evict = append(evict, c.key)
	}
	return evict
}

func (i *SizeIndex) candidatesLocked(skip string) []candidate {
	out := make([]candidate, 0, len(i.entries)+1)
	for k, e := range i.entries {
		if k == skip {
			continue
		}
		out = append(out, candidate{key: k, size: e.size, seq: e.seq})
	}
	return out
}

func sortLargestFirst(candidates []candidate) {
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].size != candidates[b].size {
			return candidates[a].size > candidates[b].size
		}
		return candidates[a].seq > candidates[b].seq
	})
}
