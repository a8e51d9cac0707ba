package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"xp-integrity-service/internal/app"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) Sweep() int {
	s.calls.Add(1)
	return 3
}

type stubReconciler struct {
	calls    atomic.Int32
	lookback atomic.Int64
	err      error
}

func (r *stubReconciler) Run(_ context.Context, lookback time.Duration) ([]app.ReconcileReport, error) {
	r.calls.Add(1)
	r.lookback.Store(int64(lookback))
	return []app.ReconcileReport{{ActorID: "alice", LeaderboardRepaired: true}}, r.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSchedulerRunsJobsOnStart(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := New(logger)
	sweeper := &countingSweeper{}
	rec := &stubReconciler{}

	if err := s.AddSweep("ratelimit", sweeper, time.Hour); err != nil {
		t.Fatalf("add sweep: %v", err)
	}
	if err := s.AddReconcile(rec, time.Hour, 24*time.Hour); err != nil {
		t.Fatalf("add reconcile: %v", err)
	}
	s.Start()
	defer s.Stop()

	waitFor(t, func() bool { return sweeper.calls.Load() >= 1 && rec.calls.Load() >= 1 })
	if got := time.Duration(rec.lookback.Load()); got != 24*time.Hour {
		t.Fatalf("expected 24h lookback, got %s", got)
	}
}

func TestReconcileFailureIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := New(logger)
	rec := &stubReconciler{err: errors.New("1 of 1 actors failed")}

	if err := s.AddReconcile(rec, time.Hour, time.Hour); err != nil {
		t.Fatalf("add reconcile: %v", err)
	}
	s.Start()
	defer s.Stop()

	waitFor(t, func() bool {
		for _, entry := range hook.AllEntries() {
			if entry.Level == logrus.WarnLevel && entry.Message == "reconcile run finished with errors" {
				return entry.Data["repaired"] == 1
			}
		}
		return false
	})
}
