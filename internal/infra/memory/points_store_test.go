package memory

import (
	"context"
	"sync"
	"testing"
)

func TestPointsStoreConcurrentApply(t *testing.T) {
	ctx := context.Background()
	store := NewPointsStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Apply(ctx, "alice", 10, true); err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()

	agg, _ := store.Get(ctx, "alice")
	if agg.TotalPoints != 500 || agg.TotalQuestions != 50 || agg.CurrentStreak != 50 {
		t.Fatalf("lost updates: %+v", agg)
	}

	agg, _ = store.Apply(ctx, "alice", 0, false)
	if agg.CurrentStreak != 0 || agg.MaxStreak != 50 || agg.TotalWrong != 1 {
		t.Fatalf("unexpected aggregate after wrong answer %+v", agg)
	}
}
