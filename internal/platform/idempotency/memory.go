package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore backs the memory persistence driver and the tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]Entry{}}
}

func (s *MemoryStore) current(id string) *Entry {
	entry, ok := s.entries[id]
	if !ok {
		return nil
	}
	return &entry
}

func (s *MemoryStore) Claim(_ context.Context, key Key, now time.Time, ttl time.Duration) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := key.ID()
	claim, err := decideClaim(s.current(id), key, now.UTC(), ttl)
	if err == nil && claim.Outcome == Acquired {
		s.entries[id] = claim.Entry
	}
	return claim, err
}

func (s *MemoryStore) Complete(_ context.Context, key Key, snap Snapshot, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := key.ID()
	entry, err := finish(s.current(id), key, snap, now.UTC(), ttl)
	if err != nil {
		return err
	}
	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, key Key) error {
	s.mu.Lock()
	delete(s.entries, key.ID())
	s.mu.Unlock()
	return nil
}

// Purge drops at most limit expired entries; limit <= 0 means all of them.
func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, entry := range s.entries {
		if limit > 0 && n == limit {
			break
		}
		if !entry.live(now.UTC()) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}
