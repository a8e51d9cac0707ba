package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"xp-integrity-service/internal/app"
	"xp-integrity-service/internal/challenge"
	"xp-integrity-service/internal/domain"
	"xp-integrity-service/internal/infra/memory"
	"xp-integrity-service/internal/integrity"
	"xp-integrity-service/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	clock       *fakeClock
	ledger      *memory.Ledger
	points      *memory.PointsStore
	board       *memory.LeaderboardStore
	accounts    *memory.AccountStore
	suspicion   *memory.SuspicionStore
	limits      *memory.RateLimitStore
	suspensions *integrity.SuspensionManager
	scorer      *integrity.Scorer
	projector   *app.Projector
	feed        *app.LeaderboardFeed
	issuer      *challenge.Issuer
	metrics     *metrics.Metrics
	hook        *test.Hook
	service     *app.XPService
}

type harnessOption func(*harness, *app.Deps, *app.Settings)

func withPoints(p app.PointsRepository) harnessOption {
	return func(_ *harness, d *app.Deps, _ *app.Settings) { d.Points = p }
}

func withLeaderboard(store app.LeaderboardRepository) harnessOption {
	return func(h *harness, d *app.Deps, _ *app.Settings) {
		h.projector = app.NewProjectorWithClock(store, h.accounts, h.feed, h.metrics, time.UTC, h.clock.Now)
		d.Projector = h.projector
	}
}

func withSettings(mutate func(*app.Settings)) harnessOption {
	return func(_ *harness, _ *app.Deps, s *app.Settings) { mutate(s) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{clock: newFakeClock(), hook: hook}
	h.ledger = memory.NewLedger()
	h.points = memory.NewPointsStoreWithClock(h.clock.Now)
	h.board = memory.NewLeaderboardStore()
	h.accounts = memory.NewAccountStore(map[string]domain.Account{
		"alice": {DisplayName: "Alice", Country: "VN", Region: "apac"},
	})
	h.suspicion = memory.NewSuspicionStoreWithClock(integrity.DefaultLatencySamples, h.clock.Now)
	h.limits = memory.NewRateLimitStoreWithClock(h.clock.Now)
	h.metrics = metrics.New(prometheus.NewRegistry())
	h.feed = app.NewLeaderboardFeed()
	h.issuer = challenge.NewIssuerWithClock([]byte("test-secret"), time.Hour, h.clock.Now)

	limiter := integrity.NewRateLimiter(h.limits)
	h.suspensions = integrity.NewSuspensionManagerWithClock(h.suspicion, h.accounts, limiter, integrity.DefaultSuspensionPolicy(), logger, h.clock.Now)
	h.scorer = integrity.NewScorerWithClock(h.ledger, h.suspicion, 0, 0, h.clock.Now)
	h.projector = app.NewProjectorWithClock(h.board, h.accounts, h.feed, h.metrics, time.UTC, h.clock.Now)

	deps := app.Deps{
		Limiter:     limiter,
		Timing:      integrity.NewTimingValidatorWithClock(time.Second, h.clock.Now),
		Scorer:      h.scorer,
		Suspensions: h.suspensions,
		Suspicion:   h.suspicion,
		Ledger:      h.ledger,
		Points:      h.points,
		Projector:   h.projector,
		Challenges:  h.issuer,
		Metrics:     h.metrics,
		Log:         logger,
	}
	settings := app.DefaultSettings()
	for _, opt := range opts {
		opt(h, &deps, &settings)
	}
	h.service = app.NewXPServiceWithClock(deps, settings, h.clock.Now)
	return h
}

// answer builds a request whose question was shown `ago` before now.
func (h *harness) answer(actorID, questionID string, correct bool, xp int, ago time.Duration) domain.GrantRequest {
	shownAt := h.clock.Now().Add(-ago)
	return domain.GrantRequest{
		ActorID:         actorID,
		XPAmount:        xp,
		IsCorrect:       correct,
		Subject:         "math",
		QuestionID:      questionID,
		QuestionShownAt: &shownAt,
		ClientIP:        "10.0.0.1",
		UserAgent:       "test-agent",
	}
}

var errStoreDown = errors.New("store down")

type failingLedger struct {
	*memory.Ledger
}

func (failingLedger) Append(context.Context, domain.AnswerEvent) error {
	return errStoreDown
}

type failingPoints struct{}

func (failingPoints) Apply(context.Context, string, int, bool) (domain.PointsAggregate, error) {
	return domain.PointsAggregate{}, errStoreDown
}

func (failingPoints) Get(_ context.Context, actorID string) (domain.PointsAggregate, error) {
	return domain.PointsAggregate{ActorID: actorID}, nil
}

type failingLeaderboard struct {
	*memory.LeaderboardStore
}

func (failingLeaderboard) Get(context.Context, string) (domain.LeaderboardDocument, bool, error) {
	return domain.LeaderboardDocument{}, false, errStoreDown
}

// conflictingLeaderboard rejects the first n writes with a version conflict.
type conflictingLeaderboard struct {
	*memory.LeaderboardStore
	mu        sync.Mutex
	conflicts int
}

func (s *conflictingLeaderboard) CompareAndSwap(ctx context.Context, doc domain.LeaderboardDocument, expected int64) (domain.LeaderboardDocument, error) {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return domain.LeaderboardDocument{}, domain.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.LeaderboardStore.CompareAndSwap(ctx, doc, expected)
}
