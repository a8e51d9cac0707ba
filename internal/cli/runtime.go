package cli

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"xp-integrity-service/internal/app"
	"xp-integrity-service/internal/challenge"
	"xp-integrity-service/internal/config"
	"xp-integrity-service/internal/infra/memory"
	"xp-integrity-service/internal/infra/postgres"
	redisstore "xp-integrity-service/internal/infra/redis"
	"xp-integrity-service/internal/integrity"
	"xp-integrity-service/internal/jobs"
	"xp-integrity-service/internal/logging"
	"xp-integrity-service/internal/metrics"
)

// runtime is the wired service graph shared by the subcommands.
type runtime struct {
	cfg        config.Config
	log        *logrus.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	service    *app.XPService
	feed       *app.LeaderboardFeed
	projector  *app.Projector
	reconciler *app.Reconciler
	sweepers   map[string]jobs.Sweeper
	closers    []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// newRuntime picks Redis and Postgres stores when configured and falls back
// to in-process stores otherwise.
func newRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		log:      logging.New(cfg.Logging.Level, cfg.Logging.Format),
		registry: prometheus.NewRegistry(),
		feed:     app.NewLeaderboardFeed(),
		sweepers: make(map[string]jobs.Sweeper),
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics = metrics.New(rt.registry)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = redisClient.Close() })
	}

	var (
		pool *pgxpool.Pool
		db   *bun.DB
	)
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = postgres.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		db = postgres.OpenBun(cfg.Postgres.URL)
		rt.closers = append(rt.closers, func() { _ = db.Close() })
	}

	samples := config.IntOr(cfg.Anomaly.LatencySamples, integrity.DefaultLatencySamples)
	cacheTTL := config.TTLDuration(cfg.AccountCacheTTL, 5*time.Minute)

	var (
		ledger       app.Ledger
		points       app.PointsRepository
		accounts     integrity.AccountRepository
		limitStore   integrity.RateLimitStore
		suspicion    integrity.SuspicionStore
		leaderboards app.LeaderboardRepository
	)
	if pool != nil {
		ledger = postgres.NewLedger(db)
		points = postgres.NewPointsStore(pool)
	} else {
		ledger = memory.NewLedger()
		points = memory.NewPointsStore()
	}

	var accountSource memory.AccountLoader = memory.NewAccountStore(nil)
	if pool != nil {
		accountSource = postgres.NewAccountStore(pool)
	}

	if redisClient != nil {
		accounts = redisstore.NewAccountCache(redisClient, accountSource, cacheTTL)
		limitStore = redisstore.NewRateLimitStore(redisClient)
		suspicion = redisstore.NewSuspicionStore(redisClient, samples)
		leaderboards = redisstore.NewLeaderboardStore(redisClient)
	} else {
		accounts = memory.NewAccountCache(accountSource, cacheTTL)
		limits := memory.NewRateLimitStore()
		susp := memory.NewSuspicionStore(samples)
		limitStore, suspicion = limits, susp
		rt.sweepers["ratelimit"] = limits
		rt.sweepers["suspicion"] = susp
		leaderboards = memory.NewLeaderboardStore()
	}

	limiter := integrity.NewRateLimiter(limitStore)
	suspensions := integrity.NewSuspensionManager(suspicion, accounts, limiter, integrity.SuspensionPolicy{
		FlagAfter:    cfg.Suspension.FlagAfter,
		SuspendAfter: cfg.Suspension.SuspendAfter,
		Window:       config.TTLDuration(cfg.Suspension.Window, 0),
		Cooldown:     config.TTLDuration(cfg.Suspension.Cooldown, 0),
	}, rt.log)

	rt.projector = app.NewProjector(leaderboards, accounts, rt.feed, rt.metrics, cfg.Location())
	rt.reconciler = app.NewReconciler(ledger, points, rt.projector, rt.metrics, rt.log)

	var issuer *challenge.Issuer
	if cfg.Challenge.Secret != "" {
		issuer = challenge.NewIssuer([]byte(cfg.Challenge.Secret), config.TTLDuration(cfg.Challenge.TTL, time.Hour))
	}

	rt.service = app.NewXPService(app.Deps{
		Limiter:     limiter,
		Timing:      integrity.NewTimingValidator(config.TTLDuration(cfg.Timing.MinElapsed, integrity.DefaultMinElapsed)),
		Scorer:      integrity.NewScorer(ledger, suspicion, cfg.Anomaly.SuspiciousScore, cfg.Anomaly.ConclusiveScore),
		Suspensions: suspensions,
		Suspicion:   suspicion,
		Ledger:      ledger,
		Points:      points,
		Projector:   rt.projector,
		Challenges:  issuer,
		Metrics:     rt.metrics,
		Log:         rt.log,
	}, settingsFrom(cfg))

	rt.log.WithFields(logrus.Fields{
		"redis":      redisClient != nil,
		"postgres":   pool != nil,
		"challenges": issuer != nil,
	}).Info("service wired")
	return rt, nil
}

func settingsFrom(cfg config.Config) app.Settings {
	s := app.DefaultSettings()
	s.UserPolicy = policyFrom(cfg.RateLimit.User, s.UserPolicy)
	s.IPPolicy = policyFrom(cfg.RateLimit.IP, s.IPPolicy)
	s.DedupeWindow = config.TTLDuration(cfg.DedupeWindow, s.DedupeWindow)
	return s
}

func policyFrom(raw config.RateLimit, fallback integrity.Policy) integrity.Policy {
	return integrity.Policy{
		Name:     fallback.Name,
		Window:   config.TTLDuration(raw.Window, fallback.Window),
		Max:      config.IntOr(raw.Max, fallback.Max),
		BlockFor: config.TTLDuration(raw.BlockFor, fallback.BlockFor),
	}
}
