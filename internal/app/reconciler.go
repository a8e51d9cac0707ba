package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"xp-integrity-service/internal/domain"
	"xp-integrity-service/internal/metrics"
)

const defaultReconcileParallelism = 4

// ReconcileReport describes what the reconciler found for one actor.
type ReconcileReport struct {
	ActorID             string
	Ledger              domain.PointsAggregate
	Aggregate           domain.PointsAggregate
	AggregateDrift      bool
	LeaderboardRepaired bool
}

// Reconciler compares the aggregate with a ledger replay and repairs
// leaderboard documents that fell behind the aggregate.
type Reconciler struct {
	ledger      Ledger
	points      PointsRepository
	projector   *Projector
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
	now         func() time.Time
	parallelism int
}

func NewReconciler(ledger Ledger, points PointsRepository, projector *Projector, m *metrics.Metrics, log logrus.FieldLogger) *Reconciler {
	return NewReconcilerWithClock(ledger, points, projector, m, log, time.Now)
}

// NewReconcilerWithClock allows deterministic lookbacks in tests.
func NewReconcilerWithClock(ledger Ledger, points PointsRepository, projector *Projector, m *metrics.Metrics, log logrus.FieldLogger, now func() time.Time) *Reconciler {
	return &Reconciler{
		ledger:      ledger,
		points:      points,
		projector:   projector,
		metrics:     m,
		log:         log,
		now:         now,
		parallelism: defaultReconcileParallelism,
	}
}

// ReconcileActor checks one actor. Aggregate drift is only reported: the
// ledger append is best effort, so the aggregate stays authoritative.
func (r *Reconciler) ReconcileActor(ctx context.Context, actorID string) (ReconcileReport, error) {
	events, err := r.ledger.Events(ctx, actorID)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("ledger events: %w", err)
	}
	agg, err := r.points.Get(ctx, actorID)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("points aggregate: %w", err)
	}
	today, err := r.ledger.Activity(ctx, actorID, r.projector.DayStart())
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("today activity: %w", err)
	}

	report := ReconcileReport{
		ActorID:   actorID,
		Ledger:    Replay(actorID, events),
		Aggregate: agg,
	}
	report.AggregateDrift = !SameTotals(report.Ledger, agg)
	if report.AggregateDrift {
		r.log.WithFields(logrus.Fields{
			"actor":           actorID,
			"ledgerPoints":    report.Ledger.TotalPoints,
			"aggregatePoints": agg.TotalPoints,
		}).Warn("points aggregate differs from ledger replay")
	}

	_, repaired, err := r.projector.Reconcile(ctx, agg, today)
	if err != nil {
		return report, fmt.Errorf("reconcile leaderboard: %w", err)
	}
	report.LeaderboardRepaired = repaired
	r.metrics.IncReconciled()
	if repaired {
		r.metrics.IncLeaderboardRepair()
		r.log.WithField("actor", actorID).Info("leaderboard document repaired")
	}
	return report, nil
}

// Run reconciles every actor with ledger activity within lookback. Failures
// of single actors are logged and counted; the remaining actors still run.
func (r *Reconciler) Run(ctx context.Context, lookback time.Duration) ([]ReconcileReport, error) {
	actors, err := r.ledger.ActiveActors(ctx, r.now().Add(-lookback))
	if err != nil {
		return nil, fmt.Errorf("active actors: %w", err)
	}

	var (
		mu      sync.Mutex
		reports = make([]ReconcileReport, 0, len(actors))
		failed  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for _, actorID := range actors {
		actorID := actorID
		g.Go(func() error {
			report, err := r.ReconcileActor(gctx, actorID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				r.log.WithError(err).WithField("actor", actorID).Error("reconcile failed")
				return nil
			}
			reports = append(reports, report)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	if failed > 0 {
		return reports, fmt.Errorf("reconcile: %d of %d actors failed", failed, len(actors))
	}
	return reports, nil
}
