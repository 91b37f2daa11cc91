package resilience

import (
	"hash/fnv"
	"sync"
	"time"
)

const storeShards = 16

// Store is a sharded in-memory cache of call results. Entries carry
// their store time; freshness is the reader's decision, which lets a
// read-through cache and a stale-serving fallback share one store.
type Store struct {
	shards     [storeShards]storeShard
	maxEntries int
	clock      func() time.Time
}

type storeShard struct {
	mu      sync.Mutex
	entries map[string]storeEntry
}

type storeEntry struct {
	value    any
	storedAt time.Time
}

// NewStore creates a store bounded to maxEntries. Zero means
// unbounded.
func NewStore(maxEntries int) *Store {
	s := &Store{
		maxEntries: maxEntries,
		clock:      time.Now,
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]storeEntry)
	}
	return s
}

func (s *Store) shard(key string) *storeShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.shards[h.Sum32()%storeShards]
}

// Set stores a value under key, evicting within the shard when over
// the per-store bound.
func (s *Store) Set(key string, value any) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	limit := s.shardLimit()
	if limit > 0 && len(sh.entries) >= limit {
		if _, exists := sh.entries[key]; !exists {
			sh.evictOldest()
		}
	}
	sh.entries[key] = storeEntry{value: value, storedAt: s.clock()}
}

// Get returns the stored value and its store time.
func (s *Store) Get(key string) (any, time.Time, bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return nil, time.Time{}, false
	}
	return e.value, e.storedAt, true
}

// GetFresh returns the stored value only when it is younger than ttl.
func (s *Store) GetFresh(key string, ttl time.Duration) (any, bool) {
	value, storedAt, ok := s.Get(key)
	if !ok || s.clock().Sub(storedAt) > ttl {
		return nil, false
	}
	return value, true
}

// Delete removes one entry.
func (s *Store) Delete(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, key)
}

// Prune drops every entry older than maxAge and returns the count
// removed.
func (s *Store) Prune(maxAge time.Duration) int {
	cutoff := s.clock().Add(-maxAge)
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, e := range sh.entries {
			if e.storedAt.Before(cutoff) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the total entry count.
func (s *Store) Len() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}

func (s *Store) shardLimit() int {
	if s.maxEntries <= 0 {
		return 0
	}
	limit := s.maxEntries / storeShards
	if limit < 1 {
		limit = 1
	}
	return limit
}

// evictOldest must be called with the shard mutex held.
func (sh *storeShard) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, e := range sh.entries {
		if first || e.storedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.storedAt
			first = false
		}
	}
	if !first {
		delete(sh.entries, oldestKey)
	}
}
