package app

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"xp-integrity-service/internal/challenge"
	"xp-integrity-service/internal/domain"
	"xp-integrity-service/internal/integrity"
	"xp-integrity-service/internal/metrics"
)

// Withheld reasons recorded on ledger events.
const (
	ReasonTiming    = "timing"
	ReasonAnomaly   = "anomaly"
	ReasonDuplicate = "duplicate"
)

const (
	DefaultDedupeWindow = 10 * time.Second
	maxUserAgentLen     = 64
	// maxLatencySample bounds what a single answer contributes to the
	// latency average.
	maxLatencySample = time.Minute
)

var warnings = map[string]string{
	ReasonTiming:    "answer submitted too quickly",
	ReasonAnomaly:   "unusual answering pattern detected",
	ReasonDuplicate: "duplicate submission for this question",
}

// Ledger is the append-only record of grant attempts.
type Ledger interface {
	Append(ctx context.Context, event domain.AnswerEvent) error
	Activity(ctx context.Context, actorID string, since time.Time) (domain.ActivityCount, error)
	HasRecentAttempt(ctx context.Context, actorID, questionID string, since time.Time) (bool, error)
	Events(ctx context.Context, actorID string) ([]domain.AnswerEvent, error)
	ActiveActors(ctx context.Context, since time.Time) ([]string, error)
}

// PointsRepository owns the authoritative points aggregate.
type PointsRepository interface {
	// Apply folds one granted answer into the aggregate atomically.
	Apply(ctx context.Context, actorID string, xp int, correct bool) (domain.PointsAggregate, error)
	Get(ctx context.Context, actorID string) (domain.PointsAggregate, error)
}

// Settings are the tunables of the grant pipeline.
type Settings struct {
	UserPolicy   integrity.Policy
	IPPolicy     integrity.Policy
	DedupeWindow time.Duration
}

// DefaultSettings returns the production rate limits and dedupe window.
func DefaultSettings() Settings {
	return Settings{
		UserPolicy:   integrity.Policy{Name: "user", Window: time.Minute, Max: 20, BlockFor: 5 * time.Minute},
		IPPolicy:     integrity.Policy{Name: "ip", Window: time.Minute, Max: 120, BlockFor: 10 * time.Minute},
		DedupeWindow: DefaultDedupeWindow,
	}
}

// Deps wires the pipeline to its gates and stores. Challenges and Metrics
// are optional.
type Deps struct {
	Limiter     *integrity.RateLimiter
	Timing      *integrity.TimingValidator
	Scorer      *integrity.Scorer
	Suspensions *integrity.SuspensionManager
	Suspicion   integrity.SuspicionStore
	Ledger      Ledger
	Points      PointsRepository
	Projector   *Projector
	Challenges  *challenge.Issuer
	Metrics     *metrics.Metrics
	Log         logrus.FieldLogger
}

// GrantResult is the outcome of a grant that was not rejected.
type GrantResult struct {
	EventID        string
	Granted        bool
	XPGranted      int
	WithheldReason string
	Warning        string
	AnomalyScore   int
	Aggregate      domain.PointsAggregate
}

// XPService runs the XP grant pipeline.
type XPService struct {
	deps     Deps
	settings Settings
	now      func() time.Time
}

func NewXPService(deps Deps, settings Settings) *XPService {
	return NewXPServiceWithClock(deps, settings, time.Now)
}

// NewXPServiceWithClock is test-only for deterministic timestamps.
func NewXPServiceWithClock(deps Deps, settings Settings, now func() time.Time) *XPService {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	return &XPService{deps: deps, settings: settings, now: now}
}

// Challenges returns the challenge issuer, nil when tokens are disabled.
func (s *XPService) Challenges() *challenge.Issuer {
	return s.deps.Challenges
}

// Grant evaluates one answer and awards XP when every gate passes. Rejections
// are errors (validation, domain.ErrSuspended, *domain.RateLimitedError);
// withheld grants are results with a warning.
func (s *XPService) Grant(ctx context.Context, req domain.GrantRequest) (GrantResult, error) {
	if err := req.Validate(); err != nil {
		s.deps.Metrics.ObserveGrant(metrics.OutcomeInvalid)
		return GrantResult{}, err
	}
	log := s.deps.Log.WithField("actor", req.ActorID)

	state, err := s.deps.Suspensions.Status(ctx, req.ActorID)
	if err != nil {
		s.deps.Metrics.ObserveGrant(metrics.OutcomeError)
		return GrantResult{}, fmt.Errorf("suspension status: %w", err)
	}
	if state == integrity.StateSuspended {
		s.deps.Metrics.ObserveGrant(metrics.OutcomeBlocked)
		return GrantResult{}, domain.ErrSuspended
	}

	if err := s.checkRateLimits(ctx, log, req); err != nil {
		return GrantResult{}, err
	}

	event := domain.AnswerEvent{
		ID:          uuid.NewString(),
		ActorID:     req.ActorID,
		QuestionID:  req.QuestionID,
		IsCorrect:   req.IsCorrect,
		RequestedXP: req.XPAmount,
		Source:      req.Source,
		Subject:     req.Subject,
		ClientIP:    req.ClientIP,
		UserAgent:   truncate(req.UserAgent, maxUserAgentLen),
		CreatedAt:   s.now(),
	}

	reason, blocked := s.runGates(ctx, log, req, &event)
	if blocked {
		s.appendEvent(ctx, log, event)
		s.deps.Metrics.ObserveGrant(metrics.OutcomeBlocked)
		return GrantResult{}, domain.ErrSuspended
	}

	result := GrantResult{
		EventID:        event.ID,
		WithheldReason: reason,
		Warning:        warnings[reason],
		AnomalyScore:   event.AnomalyScore,
	}
	var snapshot *domain.PointsAggregate
	if reason == "" {
		agg, err := s.deps.Points.Apply(ctx, req.ActorID, req.XPAmount, req.IsCorrect)
		if err != nil {
			s.deps.Metrics.ObserveGrant(metrics.OutcomeError)
			return GrantResult{}, fmt.Errorf("apply points: %w", err)
		}
		event.Granted = true
		event.GrantedXP = req.XPAmount
		event.TotalPointsAfter = agg.TotalPoints
		event.StreakAfter = agg.CurrentStreak
		result.Granted = true
		result.XPGranted = req.XPAmount
		result.Aggregate = agg
		snapshot = &agg
	}
	event.WithheldReason = reason

	s.appendEvent(ctx, log, event)

	if _, err := s.deps.Projector.Merge(ctx, Attempt{
		ActorID:   req.ActorID,
		Correct:   req.IsCorrect,
		Granted:   result.Granted,
		XP:        result.XPGranted,
		Subject:   req.Subject,
		Aggregate: snapshot,
	}); err != nil {
		s.deps.Metrics.IncStoreFailure("leaderboard")
		log.WithError(err).Error("leaderboard merge failed")
	}

	if result.Granted {
		s.deps.Metrics.ObserveGrant(metrics.OutcomeGranted)
		s.deps.Metrics.AddGrantedXP(result.XPGranted)
	} else {
		s.deps.Metrics.ObserveGrant(metrics.OutcomeWithheld)
		s.deps.Metrics.ObserveWithheld(reason)
	}
	return result, nil
}

func (s *XPService) checkRateLimits(ctx context.Context, log logrus.FieldLogger, req domain.GrantRequest) error {
	checks := []struct {
		key    string
		policy integrity.Policy
	}{
		{integrity.UserKey(req.ActorID), s.settings.UserPolicy},
	}
	if req.ClientIP != "" {
		checks = append(checks, struct {
			key    string
			policy integrity.Policy
		}{integrity.IPKey(req.ClientIP), s.settings.IPPolicy})
	}

	for _, c := range checks {
		decision, err := s.deps.Limiter.Check(ctx, c.key, c.policy)
		if err != nil {
			s.deps.Metrics.IncStoreFailure("rate_limit")
			log.WithError(err).WithField("policy", c.policy.Name).Warn("rate limit store unavailable, allowing request")
		}
		if decision.Allowed {
			continue
		}
		if _, err := s.deps.Suspensions.RecordViolation(ctx, req.ActorID, integrity.ViolationRateLimit); err != nil {
			log.WithError(err).Error("record rate limit violation")
		}
		s.deps.Metrics.ObserveGrant(metrics.OutcomeRateLimited)
		return &domain.RateLimitedError{
			Policy:     c.policy.Name,
			RetryAfter: decision.ResetIn,
			Blocked:    decision.Blocked,
		}
	}
	return nil
}

// runGates applies the duplicate, timing and anomaly gates. It fills the
// event's timing and score fields and returns the withheld reason, or
// blocked when the attempt ended in a suspension.
func (s *XPService) runGates(ctx context.Context, log logrus.FieldLogger, req domain.GrantRequest, event *domain.AnswerEvent) (string, bool) {
	if s.isDuplicate(ctx, log, req) {
		return ReasonDuplicate, false
	}

	timing := s.checkTiming(req)
	event.ElapsedMs = timing.ElapsedMs()
	if timing.Checked {
		if err := s.deps.Suspicion.AddLatency(ctx, req.ActorID, min(max(timing.Elapsed, 0), maxLatencySample)); err != nil {
			log.WithError(err).Warn("record latency")
		}
	}

	assessment, err := s.deps.Scorer.Assess(ctx, req.ActorID)
	if err != nil {
		s.deps.Metrics.IncStoreFailure("anomaly")
		log.WithError(err).Warn("anomaly signals unavailable, scoring skipped")
	}
	event.AnomalyScore = assessment.Score
	s.deps.Metrics.ObserveAnomalyScore(assessment.Score)

	if assessment.Conclusive {
		event.WithheldReason = ReasonAnomaly
		reason := fmt.Sprintf("anomaly score %d", assessment.Score)
		if err := s.deps.Suspensions.Suspend(ctx, req.ActorID, reason); err != nil {
			log.WithError(err).Error("suspend on conclusive anomaly score")
		}
		return ReasonAnomaly, true
	}

	var (
		reason string
		kind   integrity.ViolationKind
	)
	switch {
	case !timing.Valid:
		reason, kind = ReasonTiming, integrity.ViolationTiming
	case assessment.Suspicious:
		reason, kind = ReasonAnomaly, integrity.ViolationAnomaly
	default:
		return "", false
	}

	state, err := s.deps.Suspensions.RecordViolation(ctx, req.ActorID, kind)
	if err != nil {
		log.WithError(err).Error("record violation")
	}
	if state == integrity.StateSuspended {
		event.WithheldReason = reason
		return reason, true
	}
	log.WithFields(logrus.Fields{"reason": reason, "score": assessment.Score}).Info("xp withheld")
	return reason, false
}

func (s *XPService) isDuplicate(ctx context.Context, log logrus.FieldLogger, req domain.GrantRequest) bool {
	if req.QuestionID == "" || s.settings.DedupeWindow <= 0 {
		return false
	}
	dup, err := s.deps.Ledger.HasRecentAttempt(ctx, req.ActorID, req.QuestionID, s.now().Add(-s.settings.DedupeWindow))
	if err != nil {
		log.WithError(err).Warn("duplicate check unavailable")
		return false
	}
	return dup
}

// checkTiming prefers the signed display time of a challenge token over the
// client-supplied timestamp.
func (s *XPService) checkTiming(req domain.GrantRequest) integrity.TimingResult {
	shownAt := req.QuestionShownAt
	if req.ChallengeToken != "" && s.deps.Challenges != nil {
		signed, err := s.deps.Challenges.Verify(req.ChallengeToken, req.ActorID, req.QuestionID)
		if err != nil {
			return s.deps.Timing.Invalid()
		}
		shownAt = &signed
	}
	return s.deps.Timing.Validate(shownAt)
}

func (s *XPService) appendEvent(ctx context.Context, log logrus.FieldLogger, event domain.AnswerEvent) {
	if err := s.deps.Ledger.Append(ctx, event); err != nil {
		s.deps.Metrics.IncStoreFailure("ledger")
		log.WithError(err).WithField("event", event.ID).Error("ledger append failed")
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// IsRejection reports whether err is a pipeline rejection rather than an
// internal failure.
func IsRejection(err error) bool {
	var rl *domain.RateLimitedError
	return domain.IsValidation(err) || errors.Is(err, domain.ErrSuspended) || errors.As(err, &rl)
}
