package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

type memoryEntry struct {
	position string
	updated  time.Time
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// MemoryStore is a process-local Store. Keys are spread over fixed shards by
// xxhash so concurrent partitions of one topic contend only per shard.
type MemoryStore struct {
	shards [shardCount]*memoryShard
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &memoryShard{entries: make(map[string]memoryEntry)}
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	return s.shards[xxhash.Sum64String(key)%shardCount]
}

func (s *MemoryStore) Lookup(_ context.Context, key string) (string, bool, error) {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	entry, ok := sh.entries[key]
	return entry.position, ok, nil
}

func (s *MemoryStore) Record(_ context.Context, key, position string) error {
	sh := s.shard(key)
	sh.mu.Lock()
	sh.entries[key] = memoryEntry{position: position, updated: s.now()}
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) Cleanup(_ context.Context, olderThan time.Duration) error {
	cutoff := s.now().Add(-olderThan)
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, entry := range sh.entries {
			if entry.updated.Before(cutoff) {
				delete(sh.entries, key)
			}
		}
		sh.mu.Unlock()
	}
	return nil
}

// Len returns the number of stored identities.
func (s *MemoryStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}
	return total
}

func (s *MemoryStore) Close() error {
	return nil
}
