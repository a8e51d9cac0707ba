package memory

import (
	"context"
	"errors"
	"testing"

	"xp-integrity-service/internal/domain"
)

func TestLeaderboardStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewLeaderboardStore()

	saved, err := store.CompareAndSwap(ctx, domain.LeaderboardDocument{ActorID: "alice", TotalPoints: 10}, 0)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if saved.Version != 1 {
		t.Fatalf("expected version 1, got %d", saved.Version)
	}

	if _, err := store.CompareAndSwap(ctx, domain.LeaderboardDocument{ActorID: "alice", TotalPoints: 99}, 0); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected conflict on stale write, got %v", err)
	}

	saved.TotalPoints = 20
	saved.SubjectPoints = map[string]int{"math": 20}
	if _, err := store.CompareAndSwap(ctx, saved, saved.Version); err != nil {
		t.Fatalf("update: %v", err)
	}
	saved.SubjectPoints["math"] = 1000

	doc, found, _ := store.Get(ctx, "alice")
	if !found || doc.TotalPoints != 20 || doc.Version != 2 {
		t.Fatalf("unexpected stored document %+v", doc)
	}
	if doc.SubjectPoints["math"] != 20 {
		t.Fatalf("stored document must not alias the caller's map")
	}
}

func TestLeaderboardStoreTop(t *testing.T) {
	ctx := context.Background()
	store := NewLeaderboardStore()
	docs := []domain.LeaderboardDocument{
		{ActorID: "a", TotalPoints: 10, Region: "apac"},
		{ActorID: "b", TotalPoints: 30, Region: "emea"},
		{ActorID: "c", TotalPoints: 20, Region: "apac"},
	}
	for _, doc := range docs {
		if _, err := store.CompareAndSwap(ctx, doc, 0); err != nil {
			t.Fatalf("insert %s: %v", doc.ActorID, err)
		}
	}

	top, _ := store.Top(ctx, "", 2)
	if len(top) != 2 || top[0].ActorID != "b" || top[1].ActorID != "c" || top[1].Rank != 2 {
		t.Fatalf("unexpected global ranking %+v", top)
	}
	regional, _ := store.Top(ctx, "apac", 10)
	if len(regional) != 2 || regional[0].ActorID != "c" || regional[1].ActorID != "a" {
		t.Fatalf("unexpected regional ranking %+v", regional)
	}
}
