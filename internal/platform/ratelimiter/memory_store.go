package ratelimiter

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count    int64
	expireAt time.Time
}

// MemoryStore is a process-local Store. Expired windows are dropped on
// read and swept every cleanupEvery writes, so memory stays bounded without
// a background goroutine.
type MemoryStore struct {
	mu     sync.Mutex
	byKey  map[string]*counter
	writes uint64
	now    func() time.Time
}

const cleanupEvery = 256

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]*counter), now: time.Now}
}

// WithClock overrides the time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.liveLocked(key, s.now())
	if !ok {
		return 0, nil
	}
	return c.count, nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c, ok := s.liveLocked(key, now)
	if !ok {
		c = &counter{expireAt: now.Add(ttl)}
		s.byKey[key] = c
	}
	c.count++

	s.writes++
	if s.writes%cleanupEvery == 0 {
		s.sweepLocked(now)
	}
	return c.count, c.expireAt, nil
}

func (s *MemoryStore) Decrement(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.liveLocked(key, s.now())
	if !ok {
		return nil
	}
	c.count--
	if c.count <= 0 {
		delete(s.byKey, key)
	}
	return nil
}

func (s *MemoryStore) liveLocked(key string, now time.Time) (*counter, bool) {
	c, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	if !now.Before(c.expireAt) {
		delete(s.byKey, key)
		return nil, false
	}
	return c, true
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for k, c := range s.byKey {
		if !now.Before(c.expireAt) {
			delete(s.byKey, k)
		}
	}
}

// Len reports the number of tracked windows, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}
