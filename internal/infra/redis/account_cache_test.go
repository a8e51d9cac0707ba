package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"xp-integrity-service/internal/domain"
	"xp-integrity-service/internal/infra/memory"
)

func TestAccountCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{AccountStore: memory.NewAccountStore(map[string]domain.Account{
		"alice": {DisplayName: "Alice", Country: "VN", Region: "apac"},
	})}
	cache := NewAccountCache(newClient(mr), loader, time.Minute)

	acct, err := cache.Account(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.Region != "apac" {
		t.Fatalf("unexpected account %+v", acct)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if ttl := mr.TTL("account:alice"); ttl < time.Minute || ttl > time.Minute+6*time.Second {
		t.Fatalf("expected ttl with jitter, got %s", ttl)
	}

	// Second call should hit cache, loader not incremented.
	acct, _ = cache.Account(context.Background(), "alice")
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if acct.DisplayName != "Alice" || acct.Suspended() {
		t.Fatalf("unexpected cached account %+v", acct)
	}
}

func TestAccountCacheInvalidatesOnSuspension(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	loader := &countingLoader{AccountStore: memory.NewAccountStore(nil)}
	cache := NewAccountCache(newClient(mr), loader, time.Hour)

	if _, err := cache.Account(ctx, "bob"); err != nil {
		t.Fatalf("get account: %v", err)
	}
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	if err := cache.MarkSuspended(ctx, "bob", domain.Suspension{Reason: "anomaly score 90", SuspendedAt: at}); err != nil {
		t.Fatalf("mark suspended: %v", err)
	}
	if mr.Exists("account:bob") {
		t.Fatalf("expected cached hash to be dropped")
	}

	acct, err := cache.Account(ctx, "bob")
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if !acct.Suspended() || acct.Suspension.Reason != "anomaly score 90" {
		t.Fatalf("expected suspension after reload, got %+v", acct)
	}

	acct, _ = cache.Account(ctx, "bob")
	if loader.calls != 2 || !acct.Suspension.SuspendedAt.Equal(at) {
		t.Fatalf("expected cached suspension, calls=%d account=%+v", loader.calls, acct)
	}
}

type countingLoader struct {
	*memory.AccountStore
	calls int
}

func (l *countingLoader) Account(ctx context.Context, actorID string) (domain.Account, error) {
	l.calls++
	return l.AccountStore.Account(ctx, actorID)
}
