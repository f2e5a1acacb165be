package session

import (
	"context"
	"sync"
	"time"

	"github.com/creastat/voiceflow"
)

type memoryEntry struct {
	rec       *Record
	expiresAt time.Time
}

// memoryStore implements Store using an in-memory map with optimistic locking.
// Records are copied on the way in and out so callers never share turns.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[Key]*memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func newMemoryStore(ttl time.Duration, now func() time.Time) *memoryStore {
	return &memoryStore{
		entries: make(map[Key]*memoryEntry),
		ttl:     ttl,
		now:     now,
	}
}

// live returns the entry for key if it has not expired. Callers hold mu.
func (s *memoryStore) live(key Key) (*memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !s.now().Before(e.expiresAt) {
		return nil, false
	}
	return e, true
}

// Create implements Store.
func (s *memoryStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(rec.Key); ok {
		return voiceflow.ErrVersionConflict
	}

	now := s.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Version = 1

	s.entries[rec.Key] = &memoryEntry{rec: rec.clone(), expiresAt: now.Add(s.ttl)}
	return nil
}

// Get implements Store.
func (s *memoryStore) Get(ctx context.Context, key Key) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		delete(s.entries, key)
		return nil, nil
	}

	// Refresh TTL on read
	e.expiresAt = s.now().Add(s.ttl)
	return e.rec.clone(), nil
}

// Update implements Store.
func (s *memoryStore) Update(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(rec.Key)
	if !ok {
		return voiceflow.ErrNotFound
	}

	if e.rec.Version != rec.Version {
		return voiceflow.ErrVersionConflict
	}

	now := s.now()
	rec.Version++
	rec.UpdatedAt = now
	rec.CreatedAt = e.rec.CreatedAt

	s.entries[rec.Key] = &memoryEntry{rec: rec.clone(), expiresAt: now.Add(s.ttl)}
	return nil
}

// Delete implements Store.
func (s *memoryStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Close implements Store.
func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[Key]*memoryEntry)
	return nil
}
