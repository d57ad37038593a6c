package cache

import (
	"context"
	"sync"
	"time"

	"github.com/enviofleett/ordersync/internal/clock"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is an in-process Store. Expired entries are dropped lazily on
// Get; with the bounded key space of query keys there is no need for a
// background janitor.
type MemoryStore struct {
	clock clock.Clock

	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemoryStore creates a memory store. Pass clock.RealClock{} outside tests.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryStore{
		clock:   clk,
		entries: make(map[string]entry),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && s.clock.Now().After(e.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock: Set may have replaced the entry.
		if cur, ok := s.entries[key]; ok && !cur.expiresAt.IsZero() && s.clock.Now().After(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Invalidate(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	return nil
}

// Len returns the number of live entries, counting not-yet-collected expired
// ones. Used by tests and stats.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
