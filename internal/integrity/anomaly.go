package integrity

import (
	"context"
	"fmt"
	"math"
	"time"

	"xp-integrity-service/internal/domain"
)

// Scoring constants. The formula is hand tuned; keep it a pure function of
// Signals so it can be replaced without touching the grant pipeline.
const (
	DefaultSuspiciousScore = 30
	DefaultConclusiveScore = 80

	// NeutralLatencyMs stands in for an actor with no latency samples yet.
	NeutralLatencyMs = 3000

	velocityFreeAttempts = 6
	velocityPerAttempt   = 3
	velocityMax          = 30

	latencySlowMs = 1200
	latencyFastMs = 300
	latencyMax    = 60

	accuracyMinSample = 20
	accuracyCeiling   = 75.0
	accuracyPerPoint  = 2.5
	accuracyMax       = 25
)

// Signals are the inputs of the anomaly score.
type Signals struct {
	AttemptsLastMinute int
	AvgLatencyMs       float64
	HourAttempts       int
	HourCorrect        int
}

// AccuracyPct returns correct/total over the last hour as a percentage.
func (s Signals) AccuracyPct() float64 {
	if s.HourAttempts == 0 {
		return 0
	}
	return float64(s.HourCorrect) * 100 / float64(s.HourAttempts)
}

// Assessment is the scored verdict for one actor.
type Assessment struct {
	Signals    Signals
	Score      int
	Suspicious bool
	Conclusive bool
}

// Score combines the signals into 0..100. It is deterministic and monotonic:
// more attempts, lower latency and higher accuracy never lower the score.
func Score(s Signals) int {
	velocity := clamp(float64(s.AttemptsLastMinute-velocityFreeAttempts)*velocityPerAttempt, 0, velocityMax)

	latency := clamp(latencyMax*(latencySlowMs-s.AvgLatencyMs)/(latencySlowMs-latencyFastMs), 0, latencyMax)

	var accuracy float64
	if s.HourAttempts >= accuracyMinSample {
		accuracy = clamp((s.AccuracyPct()-accuracyCeiling)*accuracyPerPoint, 0, accuracyMax)
	}

	return int(math.Floor(clamp(velocity+latency+accuracy, 0, 100)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ActivitySource counts ledger attempts of an actor since a point in time.
type ActivitySource interface {
	Activity(ctx context.Context, actorID string, since time.Time) (domain.ActivityCount, error)
}

// Scorer gathers signals for an actor and scores them.
type Scorer struct {
	activity   ActivitySource
	suspicion  SuspicionStore
	suspicious int
	conclusive int
	now        func() time.Time
}

func NewScorer(activity ActivitySource, suspicion SuspicionStore, suspicious, conclusive int) *Scorer {
	return NewScorerWithClock(activity, suspicion, suspicious, conclusive, time.Now)
}

// NewScorerWithClock allows deterministic windows in tests.
func NewScorerWithClock(activity ActivitySource, suspicion SuspicionStore, suspicious, conclusive int, now func() time.Time) *Scorer {
	if suspicious <= 0 {
		suspicious = DefaultSuspiciousScore
	}
	if conclusive <= 0 {
		conclusive = DefaultConclusiveScore
	}
	return &Scorer{
		activity:   activity,
		suspicion:  suspicion,
		suspicious: suspicious,
		conclusive: conclusive,
		now:        now,
	}
}

// Assess scores the actor's recent behaviour.
func (s *Scorer) Assess(ctx context.Context, actorID string) (Assessment, error) {
	now := s.now()

	minute, err := s.activity.Activity(ctx, actorID, now.Add(-time.Minute))
	if err != nil {
		return Assessment{}, fmt.Errorf("minute activity: %w", err)
	}
	hour, err := s.activity.Activity(ctx, actorID, now.Add(-time.Hour))
	if err != nil {
		return Assessment{}, fmt.Errorf("hour activity: %w", err)
	}
	record, err := s.suspicion.Get(ctx, actorID)
	if err != nil {
		return Assessment{}, fmt.Errorf("suspicion record: %w", err)
	}
	avg, ok := record.AverageLatency()
	if !ok {
		avg = NeutralLatencyMs
	}

	return s.Evaluate(Signals{
		AttemptsLastMinute: minute.Attempts,
		AvgLatencyMs:       avg,
		HourAttempts:       hour.Attempts,
		HourCorrect:        hour.Correct,
	}), nil
}

// Evaluate applies the thresholds to an already gathered set of signals.
func (s *Scorer) Evaluate(signals Signals) Assessment {
	score := Score(signals)
	return Assessment{
		Signals:    signals,
		Score:      score,
		Suspicious: score >= s.suspicious,
		Conclusive: score >= s.conclusive,
	}
}
