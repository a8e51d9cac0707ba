package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"xp-integrity-service/internal/integrity"
)

func TestRateLimitStoreCountsAndExpires(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewRateLimitStore(newClient(mr))

	for want := 1; want <= 3; want++ {
		count, resetIn, err := store.Hit(ctx, "user:alice", time.Minute)
		if err != nil {
			t.Fatalf("hit: %v", err)
		}
		if count != want {
			t.Fatalf("expected count %d, got %d", want, count)
		}
		if resetIn <= 0 || resetIn > time.Minute {
			t.Fatalf("unexpected reset %s", resetIn)
		}
	}

	mr.FastForward(time.Minute)
	count, _, err := store.Hit(ctx, "user:alice", time.Minute)
	if err != nil {
		t.Fatalf("hit after window: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a fresh window, got count %d", count)
	}
}

func TestRateLimitStoreBlock(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewRateLimitStore(newClient(mr))

	if remaining, err := store.BlockedFor(ctx, "ip:1.2.3.4"); err != nil || remaining != 0 {
		t.Fatalf("expected no block, got %s (%v)", remaining, err)
	}
	if err := store.Block(ctx, "ip:1.2.3.4", 5*time.Minute); err != nil {
		t.Fatalf("block: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	remaining, err := store.BlockedFor(ctx, "ip:1.2.3.4")
	if err != nil {
		t.Fatalf("blocked for: %v", err)
	}
	if remaining != 3*time.Minute {
		t.Fatalf("expected 3m left, got %s", remaining)
	}
	mr.FastForward(3 * time.Minute)
	if remaining, _ := store.BlockedFor(ctx, "ip:1.2.3.4"); remaining != 0 {
		t.Fatalf("expected block to expire, got %s", remaining)
	}
}

func TestRateLimiterOverRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	limiter := integrity.NewRateLimiter(NewRateLimitStore(newClient(mr)))
	policy := integrity.Policy{Name: "user", Window: time.Minute, Max: 2, BlockFor: 5 * time.Minute}

	for i := 0; i < 2; i++ {
		if d, err := limiter.Check(ctx, "user:alice", policy); err != nil || !d.Allowed {
			t.Fatalf("request %d should pass: %+v (%v)", i, d, err)
		}
	}
	d, err := limiter.Check(ctx, "user:alice", policy)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed || !d.Blocked || d.ResetInMs() != 300000 {
		t.Fatalf("expected a 5m block, got %+v", d)
	}
	if !mr.Exists("rl:block:user:alice") {
		t.Fatalf("expected block marker in redis")
	}
}
