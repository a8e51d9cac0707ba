package http

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"

	"xp-integrity-service/internal/app"
	"xp-integrity-service/internal/challenge"
	"xp-integrity-service/internal/domain"
	"xp-integrity-service/internal/infra/memory"
	"xp-integrity-service/internal/integrity"
	"xp-integrity-service/internal/metrics"
)

type testStack struct {
	service *app.XPService
	feed    *app.LeaderboardFeed
	issuer  *challenge.Issuer
}

func newTestStack(t *testing.T, settings app.Settings) testStack {
	t.Helper()
	logger, _ := test.NewNullLogger()

	ledger := memory.NewLedger()
	accounts := memory.NewAccountStore(map[string]domain.Account{
		"alice": {DisplayName: "Alice", Region: "apac"},
	})
	suspicion := memory.NewSuspicionStore(integrity.DefaultLatencySamples)
	limiter := integrity.NewRateLimiter(memory.NewRateLimitStore())
	m := metrics.New(prometheus.NewRegistry())
	feed := app.NewLeaderboardFeed()
	issuer := challenge.NewIssuer([]byte("transport-secret"), time.Hour)

	service := app.NewXPService(app.Deps{
		Limiter:     limiter,
		Timing:      integrity.NewTimingValidator(time.Second),
		Scorer:      integrity.NewScorer(ledger, suspicion, 0, 0),
		Suspensions: integrity.NewSuspensionManager(suspicion, accounts, limiter, integrity.DefaultSuspensionPolicy(), logger),
		Suspicion:   suspicion,
		Ledger:      ledger,
		Points:      memory.NewPointsStore(),
		Projector:   app.NewProjector(memory.NewLeaderboardStore(), accounts, feed, m, time.UTC),
		Challenges:  issuer,
		Metrics:     m,
		Log:         logger,
	}, settings)
	return testStack{service: service, feed: feed, issuer: issuer}
}

func shownAgo(d time.Duration) int64 {
	return time.Now().Add(-d).UnixMilli()
}
