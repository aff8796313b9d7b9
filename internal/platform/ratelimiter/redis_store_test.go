package ratelimiter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"keystore/go-backend/internal/contracts"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := DialRedis(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStoreIncrementSetsExpiryOnce(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	n, end, err := store.Increment(ctx, "k", time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("first increment: %d, %v", n, err)
	}
	if until := time.Until(end); until <= 50*time.Second || until > time.Minute {
		t.Fatalf("window end should be about a minute away, got %s", until)
	}
	mr.FastForward(30 * time.Second)
	n, end, err = store.Increment(ctx, "k", time.Minute)
	if err != nil || n != 2 {
		t.Fatalf("second increment: %d, %v", n, err)
	}
	if until := time.Until(end); until > 31*time.Second {
		t.Fatalf("second increment should report the remaining window, got %s", until)
	}
	if ttl := mr.TTL("k"); ttl > 30*time.Second {
		t.Fatalf("second increment must not extend the window, ttl=%s", ttl)
	}
	mr.FastForward(31 * time.Second)
	if got, _ := store.Get(ctx, "k"); got != 0 {
		t.Fatalf("expected expired window, got %d", got)
	}
}

func TestRedisStoreDecrementIsGuarded(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	if err := store.Decrement(ctx, "missing"); err != nil {
		t.Fatalf("decrement missing: %v", err)
	}
	if mr.Exists("missing") {
		t.Fatal("decrement must not create a key")
	}
	_, _, _ = store.Increment(ctx, "k", time.Minute)
	_, _, _ = store.Increment(ctx, "k", time.Minute)
	if err := store.Decrement(ctx, "k"); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if got, _ := store.Get(ctx, "k"); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	_ = store.Decrement(ctx, "k")
	if mr.Exists("k") {
		t.Fatal("counter at zero should be deleted")
	}
}

func TestWindowLimiterOverRedis(t *testing.T) {
	store, mr := newRedisStore(t)
	limiter := NewWindowLimiter(store, 3, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Admit(ctx, "id"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if _, err := limiter.Admit(ctx, "id"); !errors.Is(err, contracts.ErrRateLimitExceeded) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if got, _ := mr.Get("ratelimit:minute:id"); got != "3" {
		t.Fatalf("unexpected minute counter %q", got)
	}
	mr.FastForward(MinuteWindow + time.Second)
	if _, err := limiter.Admit(ctx, "id"); err != nil {
		t.Fatalf("after expiry: %v", err)
	}
}

func TestDialRedisFailsForUnreachableServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := DialRedis(ctx, "redis://"+addr); err == nil {
		t.Fatal("expected dial error")
	}
	if _, err := DialRedis(ctx, "::not a url::"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFallbackStoreDegradesToLocal(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	local := NewMemoryStore()
	store := NewFallbackStore(NewRedisStore(client), local, logger)
	limiter := NewWindowLimiter(store, 2, 100)
	ctx := context.Background()

	if _, err := limiter.Admit(ctx, "id"); err != nil {
		t.Fatalf("admit via redis: %v", err)
	}
	if got, _ := mr.Get("ratelimit:minute:id"); got != "1" {
		t.Fatalf("expected redis counter, got %q", got)
	}

	mr.Close()
	if _, err := limiter.Admit(ctx, "id"); err != nil {
		t.Fatalf("storage failure must not surface: %v", err)
	}
	if got, _ := local.Get(ctx, "ratelimit:minute:id"); got != 1 {
		t.Fatalf("expected local counter 1, got %d", got)
	}
	if !strings.Contains(logs.String(), "rate limit storage unavailable") || !strings.Contains(logs.String(), `"error_category":"storage"`) {
		t.Fatalf("expected storage warning, got %s", logs.String())
	}
}

func TestFallbackStoreWithoutPrimary(t *testing.T) {
	store := NewFallbackStore(nil, nil, nil)
	n, _, err := store.Increment(context.Background(), "k", time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("increment: %d, %v", n, err)
	}
}
