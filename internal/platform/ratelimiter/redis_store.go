package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The expiry is only set when the increment created the key, so a busy
// window cannot be extended indefinitely.
var incrementScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

var decrementScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  local n = redis.call("DECR", KEYS[1])
  if n <= 0 then
    redis.call("DEL", KEYS[1])
  end
  return n
end
return 0
`)

// RedisStore shares counters across relay instances.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis parses a redis:// URL and verifies the server answers.
func DialRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	started := time.Now()
	reply, err := incrementScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(reply) != 2 {
		return 0, time.Time{}, fmt.Errorf("increment %s: unexpected reply %v", key, reply)
	}
	remaining := time.Duration(reply[1]) * time.Millisecond
	if reply[1] < 0 {
		remaining = ttl
	}
	return reply[0], started.Add(remaining), nil
}

func (s *RedisStore) Decrement(ctx context.Context, key string) error {
	return decrementScript.Run(ctx, s.client, []string{key}).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
