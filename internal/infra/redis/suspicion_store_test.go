package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestSuspicionStoreRecords(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store := NewSuspicionStoreWithClock(newClient(mr), 2, func() time.Time { return now })

	rec, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get empty: %v", err)
	}
	if rec.Violations != 0 || len(rec.Latencies) != 0 || rec.SuspendedAt(now) {
		t.Fatalf("expected empty record, got %+v", rec)
	}

	for _, ms := range []int{100, 200, 300} {
		if err := store.AddLatency(ctx, "alice", time.Duration(ms)*time.Millisecond); err != nil {
			t.Fatalf("add latency: %v", err)
		}
	}
	rec, _ = store.Get(ctx, "alice")
	if len(rec.Latencies) != 2 || rec.Latencies[0] != 200 || rec.Latencies[1] != 300 {
		t.Fatalf("expected newest two latencies oldest first, got %v", rec.Latencies)
	}

	if _, err := store.AddViolation(ctx, "alice", 10*time.Minute); err != nil {
		t.Fatalf("add violation: %v", err)
	}
	rec, err = store.AddViolation(ctx, "alice", 10*time.Minute)
	if err != nil {
		t.Fatalf("add violation: %v", err)
	}
	if rec.Violations != 2 || !rec.LastViolation.Equal(now) {
		t.Fatalf("expected 2 violations at now, got %+v", rec)
	}

	mr.FastForward(10 * time.Minute)
	rec, _ = store.Get(ctx, "alice")
	if rec.Violations != 0 {
		t.Fatalf("expected the violation window to expire, got %d", rec.Violations)
	}
}

func TestSuspicionStoreKeepsFirstReason(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store := NewSuspicionStoreWithClock(newClient(mr), 0, func() time.Time { return now })

	if _, err := store.MarkSuspended(ctx, "alice", "first", 30*time.Minute); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	mr.FastForward(10 * time.Minute)
	now = now.Add(10 * time.Minute)

	rec, err := store.MarkSuspended(ctx, "alice", "second", 30*time.Minute)
	if err != nil {
		t.Fatalf("suspend again: %v", err)
	}
	if rec.SuspendReason != "first" {
		t.Fatalf("expected first reason kept, got %q", rec.SuspendReason)
	}
	if !rec.SuspendedUntil.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("expected cooldown refreshed to %s, got %s", now.Add(30*time.Minute), rec.SuspendedUntil)
	}

	mr.FastForward(30 * time.Minute)
	now = now.Add(30 * time.Minute)
	rec, _ = store.Get(ctx, "alice")
	if rec.SuspendedAt(now) {
		t.Fatalf("expected suspension to expire")
	}
}
