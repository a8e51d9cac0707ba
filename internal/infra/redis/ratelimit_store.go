package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments a fixed-window counter, starting the window on the
// first hit, and returns {count, pttl}.
var hitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

// RateLimitStore keeps rate limit windows in Redis so every instance shares
// the same counters:
//
//	rl:count:{key}  INCR counter expiring with the window
//	rl:block:{key}  block marker set with PX
type RateLimitStore struct {
	client *redis.Client
}

func NewRateLimitStore(client *redis.Client) *RateLimitStore {
	return &RateLimitStore{client: client}
}

func (s *RateLimitStore) Hit(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	res, err := hitScript.Run(ctx, s.client, []string{countKey(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit hit: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("rate limit hit: unexpected reply %v", res)
	}
	resetIn := time.Duration(res[1]) * time.Millisecond
	if res[1] < 0 {
		resetIn = window
	}
	return int(res[0]), resetIn, nil
}

func (s *RateLimitStore) BlockedFor(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, blockKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("rate limit block ttl: %w", err)
	}
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func (s *RateLimitStore) Block(ctx context.Context, key string, d time.Duration) error {
	return s.client.Set(ctx, blockKey(key), "1", d).Err()
}

func countKey(key string) string {
	return "rl:count:" + key
}

func blockKey(key string) string {
	return "rl:block:" + key
}
