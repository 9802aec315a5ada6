package token

import (
	"context"
	"sync"
	"time"

	"moviebot/internal/clock"
)

// MemoryStore токены в памяти процесса. Теряются при рестарте.
type MemoryStore struct {
	clock clock.Clock

	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real{}
	}
	return &MemoryStore{
		clock:   c,
		records: make(map[string]Record),
	}
}

func (s *MemoryStore) Put(_ context.Context, rec Record, ttl time.Duration) error {
	now := s.clock.Now()
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(ttl)

	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(id, false)
}

func (s *MemoryStore) Take(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(id, true)
}

// lookup вызывается под mu.
func (s *MemoryStore) lookup(id string, remove bool) (Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Expired(s.clock.Now()) {
		delete(s.records, id)
		return Record{}, ErrNotFound
	}
	if remove {
		delete(s.records, id)
	}
	return rec, nil
}

func (s *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Len число записей, включая ещё не вычищенные истёкшие.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) Close() error { return nil }
