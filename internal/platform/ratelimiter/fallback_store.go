package ratelimiter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"keystore/go-backend/internal/contracts"
)

const defaultRetryPrimaryAfter = 30 * time.Second

// FallbackStore prefers a shared primary store and degrades to a local one
// while the primary is failing. Storage errors are logged, never returned.
type FallbackStore struct {
	primary Store
	local   Store
	logger  *slog.Logger
	now     func() time.Time

	retryAfter time.Duration

	mu        sync.Mutex
	downUntil time.Time
}

func NewFallbackStore(primary Store, local Store, logger *slog.Logger) *FallbackStore {
	if local == nil {
		local = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackStore{
		primary:    primary,
		local:      local,
		logger:     logger,
		now:        time.Now,
		retryAfter: defaultRetryPrimaryAfter,
	}
}

func (s *FallbackStore) primaryUsable() bool {
	if s.primary == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.now().Before(s.downUntil)
}

func (s *FallbackStore) markDown(op string, err error) {
	s.mu.Lock()
	s.downUntil = s.now().Add(s.retryAfter)
	s.mu.Unlock()
	s.logger.Warn("rate limit storage unavailable, using local counters",
		"operation", "ratelimit."+op,
		"error_category", contracts.ErrorCategory(contracts.ErrStorageUnavailable),
		"error", err.Error(),
		"retry_after", s.retryAfter.String(),
	)
}

func (s *FallbackStore) Get(ctx context.Context, key string) (int64, error) {
	if s.primaryUsable() {
		n, err := s.primary.Get(ctx, key)
		if err == nil {
			return n, nil
		}
		s.markDown("get", err)
	}
	return s.local.Get(ctx, key)
}

func (s *FallbackStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	if s.primaryUsable() {
		n, end, err := s.primary.Increment(ctx, key, ttl)
		if err == nil {
			return n, end, nil
		}
		s.markDown("increment", err)
	}
	return s.local.Increment(ctx, key, ttl)
}

func (s *FallbackStore) Decrement(ctx context.Context, key string) error {
	if s.primaryUsable() {
		err := s.primary.Decrement(ctx, key)
		if err == nil {
			return nil
		}
		s.markDown("decrement", err)
	}
	return s.local.Decrement(ctx, key)
}
