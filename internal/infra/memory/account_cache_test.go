package memory

import (
	"context"
	"testing"
	"time"

	"xp-integrity-service/internal/domain"
)

func TestAccountCacheCaches(t *testing.T) {
	loader := &countingLoader{AccountStore: NewAccountStore(map[string]domain.Account{
		"alice": {DisplayName: "Alice", Region: "apac"},
	})}
	cache := NewAccountCache(loader, time.Minute)

	acct, err := cache.Account(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.DisplayName != "Alice" || acct.ActorID != "alice" {
		t.Fatalf("unexpected account %+v", acct)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := cache.Account(context.Background(), "alice"); err != nil {
		t.Fatalf("get account 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestAccountCacheExpires(t *testing.T) {
	loader := &countingLoader{AccountStore: NewAccountStore(nil)}
	cache := NewAccountCache(loader, time.Minute)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	cache.clock = func() time.Time { return now }

	if _, err := cache.Account(context.Background(), "bob"); err != nil {
		t.Fatalf("get account: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := cache.Account(context.Background(), "bob"); err != nil {
		t.Fatalf("get account after ttl: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.calls)
	}
}

func TestAccountCacheWritesSuspensionThrough(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{AccountStore: NewAccountStore(nil)}
	cache := NewAccountCache(loader, time.Hour)

	if _, err := cache.Account(ctx, "alice"); err != nil {
		t.Fatalf("get account: %v", err)
	}
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	if err := cache.MarkSuspended(ctx, "alice", domain.Suspension{Reason: "anomaly", SuspendedAt: at}); err != nil {
		t.Fatalf("mark suspended: %v", err)
	}

	acct, err := cache.Account(ctx, "alice")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !acct.Suspended() || acct.Suspension.Reason != "anomaly" {
		t.Fatalf("expected cached suspension, got %+v", acct)
	}
	stored, _ := loader.AccountStore.Account(ctx, "alice")
	if !stored.Suspended() {
		t.Fatalf("expected suspension persisted in the backing store")
	}
}

type countingLoader struct {
	*AccountStore
	calls int
}

func (l *countingLoader) Account(ctx context.Context, actorID string) (domain.Account, error) {
	l.calls++
	return l.AccountStore.Account(ctx, actorID)
}
