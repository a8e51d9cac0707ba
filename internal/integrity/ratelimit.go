package integrity

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds how many requests a key may make per window.
type Policy struct {
	Name     string
	Window   time.Duration
	Max      int
	BlockFor time.Duration // zero means deny until the window resets
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool
	Blocked bool
	ResetIn time.Duration
}

// ResetInMs returns ResetIn in whole milliseconds.
func (d Decision) ResetInMs() int64 {
	return d.ResetIn.Milliseconds()
}

// UserKey and IPKey build the limiter keys for the two per-request policies.
func UserKey(actorID string) string { return "user:" + actorID }

func IPKey(addr string) string { return "ip:" + addr }

// RateLimiter applies fixed-window policies with a block list for offenders.
type RateLimiter struct {
	store RateLimitStore
}

func NewRateLimiter(store RateLimitStore) *RateLimiter {
	return &RateLimiter{store: store}
}

// Check counts the request against policy and reports whether it may proceed.
func (l *RateLimiter) Check(ctx context.Context, key string, policy Policy) (Decision, error) {
	if policy.Max <= 0 || policy.Window <= 0 {
		return Decision{Allowed: true}, nil
	}

	remaining, err := l.store.BlockedFor(ctx, key)
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("read block for %s: %w", key, err)
	}
	if remaining > 0 {
		return Decision{Allowed: false, Blocked: true, ResetIn: remaining}, nil
	}

	count, resetIn, err := l.store.Hit(ctx, key, policy.Window)
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("hit %s: %w", key, err)
	}
	if count <= policy.Max {
		return Decision{Allowed: true, ResetIn: resetIn}, nil
	}

	if policy.BlockFor <= 0 {
		return Decision{Allowed: false, ResetIn: resetIn}, nil
	}
	if err := l.store.Block(ctx, key, policy.BlockFor); err != nil {
		return Decision{Allowed: false, ResetIn: resetIn}, fmt.Errorf("block %s: %w", key, err)
	}
	return Decision{Allowed: false, Blocked: true, ResetIn: policy.BlockFor}, nil
}

// Block puts key on the block list for d, refreshing any running block.
func (l *RateLimiter) Block(ctx context.Context, key string, d time.Duration) error {
	return l.store.Block(ctx, key, d)
}
