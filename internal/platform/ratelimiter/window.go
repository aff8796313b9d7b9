package ratelimiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"keystore/go-backend/internal/contracts"
)

const (
	MinuteWindow = time.Minute
	HourWindow   = time.Hour

	DefaultMaxPerMinute = 10
	DefaultMaxPerHour   = 100
)

func minuteKey(id string) string { return "ratelimit:minute:" + id }
func hourKey(id string) string   { return "ratelimit:hour:" + id }

// WindowLimiter caps requests per identity over a minute and an hour window.
type WindowLimiter struct {
	store        Store
	maxPerMinute int64
	maxPerHour   int64
	now          func() time.Time
}

func NewWindowLimiter(store Store, maxPerMinute, maxPerHour int) *WindowLimiter {
	if maxPerMinute <= 0 {
		maxPerMinute = DefaultMaxPerMinute
	}
	if maxPerHour <= 0 {
		maxPerHour = DefaultMaxPerHour
	}
	return &WindowLimiter{store: store, maxPerMinute: int64(maxPerMinute), maxPerHour: int64(maxPerHour), now: time.Now}
}

// WithClock overrides the time source used to tell whether a reserved
// window is still open.
func (l *WindowLimiter) WithClock(now func() time.Time) *WindowLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

type Usage struct {
	Minute int64
	Hour   int64
}

func (l *WindowLimiter) Usage(ctx context.Context, id string) (Usage, error) {
	minute, err := l.store.Get(ctx, minuteKey(id))
	if err != nil {
		return Usage{}, err
	}
	hour, err := l.store.Get(ctx, hourKey(id))
	if err != nil {
		return Usage{}, err
	}
	return Usage{Minute: minute, Hour: hour}, nil
}

// Admit counts one request for id in both windows. When either window is
// over its ceiling the increments are undone and ErrRateLimitExceeded is
// returned, leaving no trace of the request.
func (l *WindowLimiter) Admit(ctx context.Context, id string) (*Reservation, error) {
	if id == "" {
		return nil, contracts.Validationf("rate limit identity is empty")
	}
	res := &Reservation{store: l.store, now: l.now}

	n, end, err := l.store.Increment(ctx, minuteKey(id), MinuteWindow)
	if err != nil {
		return nil, err
	}
	res.slots = append(res.slots, slot{key: minuteKey(id), windowEnd: end})
	if n > l.maxPerMinute {
		res.Release(ctx)
		return nil, fmt.Errorf("%w: %d requests per minute", contracts.ErrRateLimitExceeded, l.maxPerMinute)
	}

	n, end, err = l.store.Increment(ctx, hourKey(id), HourWindow)
	if err != nil {
		res.Release(ctx)
		return nil, err
	}
	res.slots = append(res.slots, slot{key: hourKey(id), windowEnd: end})
	if n > l.maxPerHour {
		res.Release(ctx)
		return nil, fmt.Errorf("%w: %d requests per hour", contracts.ErrRateLimitExceeded, l.maxPerHour)
	}
	return res, nil
}

type slot struct {
	key       string
	windowEnd time.Time
}

// Reservation is an admitted request. Release gives the slot back, for
// requests that never reached the network. A window that already rolled
// over is left alone: the counter under its key now belongs to a newer
// window.
type Reservation struct {
	store Store
	now   func() time.Time
	slots []slot
	once  sync.Once
}

func (r *Reservation) Release(ctx context.Context) {
	if r == nil {
		return
	}
	r.once.Do(func() {
		now := r.now()
		for _, s := range r.slots {
			if !now.Before(s.windowEnd) {
				continue
			}
			_ = r.store.Decrement(ctx, s.key)
		}
	})
}
