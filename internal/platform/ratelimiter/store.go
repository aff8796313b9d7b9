package ratelimiter

import (
	"context"
	"time"
)

// Store holds expiring counters. Increment must be atomic per key and start
// the ttl on the first increment of a fresh window. It reports the count and
// the end of the window it counted into.
type Store interface {
	Get(ctx context.Context, key string) (int64, error)
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Time, error)
	// Decrement undoes one Increment. It is a no-op once the window expired.
	Decrement(ctx context.Context, key string) error
}
