package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"xp-integrity-service/internal/app"
)

// Reconciler is the part of app.Reconciler the scheduler drives.
type Reconciler interface {
	Run(ctx context.Context, lookback time.Duration) ([]app.ReconcileReport, error)
}

// Sweeper drops expired entries from a process-local store and reports how
// many it removed.
type Sweeper interface {
	Sweep() int
}

// Scheduler runs the periodic maintenance jobs. Jobs are in singleton mode,
// so a slow run is never overlapped by the next tick.
type Scheduler struct {
	scheduler *gocron.Scheduler
	log       logrus.FieldLogger
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(log logrus.FieldLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// AddReconcile repairs leaderboard documents of actors active within lookback
// every interval.
func (s *Scheduler) AddReconcile(r Reconciler, interval, lookback time.Duration) error {
	_, err := s.scheduler.Every(interval).SingletonMode().Do(func() {
		started := time.Now()
		reports, err := r.Run(s.ctx, lookback)
		repaired := 0
		for _, report := range reports {
			if report.LeaderboardRepaired {
				repaired++
			}
		}
		log := s.log.WithFields(logrus.Fields{
			"actors":   len(reports),
			"repaired": repaired,
			"took":     time.Since(started).String(),
		})
		if err != nil {
			log.WithError(err).Warn("reconcile run finished with errors")
			return
		}
		log.Debug("reconcile run finished")
	})
	if err != nil {
		return fmt.Errorf("schedule reconcile: %w", err)
	}
	return nil
}

// AddSweep evicts expired entries of an in-process store every interval.
func (s *Scheduler) AddSweep(name string, store Sweeper, interval time.Duration) error {
	_, err := s.scheduler.Every(interval).SingletonMode().Do(func() {
		if n := store.Sweep(); n > 0 {
			s.log.WithFields(logrus.Fields{"store": name, "evicted": n}).Debug("sweep finished")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s sweep: %w", name, err)
	}
	return nil
}

// Start runs every job once and then on its interval, without blocking.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop cancels running jobs and stops the scheduler.
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}
