package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"xp-integrity-service/internal/app"
	"xp-integrity-service/internal/domain"
	"xp-integrity-service/internal/infra/memory"
)

func TestLeaderboardStoreCompareAndSwap(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewLeaderboardStore(newClient(mr))

	if _, found, err := store.Get(ctx, "alice"); err != nil || found {
		t.Fatalf("expected missing document, found=%v err=%v", found, err)
	}

	saved, err := store.CompareAndSwap(ctx, domain.LeaderboardDocument{ActorID: "alice", TotalPoints: 10, Region: "apac"}, 0)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if saved.Version != 1 {
		t.Fatalf("expected version 1, got %d", saved.Version)
	}
	if _, err := store.CompareAndSwap(ctx, domain.LeaderboardDocument{ActorID: "alice"}, 0); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	saved.TotalPoints = 25
	saved.Region = "emea"
	if _, err := store.CompareAndSwap(ctx, saved, 1); err != nil {
		t.Fatalf("update: %v", err)
	}

	doc, found, err := store.Get(ctx, "alice")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if doc.TotalPoints != 25 || doc.Version != 2 {
		t.Fatalf("unexpected document %+v", doc)
	}

	if score, _ := mr.ZScore("lb:points", "alice"); score != 25 {
		t.Fatalf("expected global score 25, got %v", score)
	}
	if members, _ := mr.ZMembers("lb:points:region:apac"); len(members) != 0 {
		t.Fatalf("expected alice removed from old region, got %v", members)
	}
}

func TestLeaderboardStoreTop(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewLeaderboardStore(newClient(mr))
	for _, doc := range []domain.LeaderboardDocument{
		{ActorID: "a", TotalPoints: 10, Region: "apac"},
		{ActorID: "b", TotalPoints: 30, Region: "emea"},
		{ActorID: "c", TotalPoints: 20, Region: "apac"},
	} {
		if _, err := store.CompareAndSwap(ctx, doc, 0); err != nil {
			t.Fatalf("insert %s: %v", doc.ActorID, err)
		}
	}

	top, err := store.Top(ctx, "", 2)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 || top[0].ActorID != "b" || top[1].ActorID != "c" || top[1].Rank != 2 || top[1].TotalPoints != 20 {
		t.Fatalf("unexpected global ranking %+v", top)
	}

	regional, _ := store.Top(ctx, "apac", 0)
	if len(regional) != 2 || regional[0].ActorID != "c" || regional[1].ActorID != "a" {
		t.Fatalf("unexpected regional ranking %+v", regional)
	}
}

func TestProjectorMergesIntoRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	accounts := memory.NewAccountStore(map[string]domain.Account{"alice": {DisplayName: "Alice", Region: "apac"}})
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	projector := app.NewProjectorWithClock(NewLeaderboardStore(newClient(mr)), accounts, nil, nil, time.UTC, func() time.Time { return now })

	for i := 1; i <= 3; i++ {
		agg := domain.PointsAggregate{ActorID: "alice", TotalPoints: 10 * i, TotalQuestions: i, TotalCorrect: i, CurrentStreak: i, MaxStreak: i}
		if _, err := projector.Merge(ctx, app.Attempt{ActorID: "alice", Correct: true, Granted: true, XP: 10, Aggregate: &agg}); err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
	}

	doc, _, err := projector.Document(ctx, "alice")
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if doc.TotalPoints != 30 || doc.TodayQuestions != 3 || doc.Version != 3 || doc.DisplayName != "Alice" {
		t.Fatalf("unexpected document %+v", doc)
	}
	top, _ := projector.Top(ctx, "apac", 10)
	if len(top) != 1 || top[0].TotalPoints != 30 {
		t.Fatalf("unexpected regional ranking %+v", top)
	}
}
