package integrity

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"xp-integrity-service/internal/domain"
)

// State is the integrity standing of an actor.
type State string

const (
	StateNormal    State = "normal"
	StateFlagged   State = "flagged"
	StateSuspended State = "suspended"
)

// ViolationKind names the gate that recorded a violation.
type ViolationKind string

const (
	ViolationRateLimit ViolationKind = "rate_limit"
	ViolationTiming    ViolationKind = "timing"
	ViolationAnomaly   ViolationKind = "anomaly"
)

// AccountRepository is the identity store view used to persist suspensions.
type AccountRepository interface {
	Account(ctx context.Context, actorID string) (domain.Account, error)
	MarkSuspended(ctx context.Context, actorID string, suspension domain.Suspension) error
}

// SuspensionPolicy configures the normal -> flagged -> suspended escalation.
type SuspensionPolicy struct {
	FlagAfter    int
	SuspendAfter int
	Window       time.Duration
	Cooldown     time.Duration
}

// DefaultSuspensionPolicy returns the production escalation thresholds.
func DefaultSuspensionPolicy() SuspensionPolicy {
	return SuspensionPolicy{
		FlagAfter:    1,
		SuspendAfter: 5,
		Window:       10 * time.Minute,
		Cooldown:     30 * time.Minute,
	}
}

// SuspensionManager escalates actors on repeated violations and persists
// suspensions to the account store.
type SuspensionManager struct {
	store    SuspicionStore
	accounts AccountRepository
	limiter  *RateLimiter
	policy   SuspensionPolicy
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewSuspensionManager(store SuspicionStore, accounts AccountRepository, limiter *RateLimiter, policy SuspensionPolicy, log logrus.FieldLogger) *SuspensionManager {
	return NewSuspensionManagerWithClock(store, accounts, limiter, policy, log, time.Now)
}

// NewSuspensionManagerWithClock allows deterministic cooldowns in tests.
func NewSuspensionManagerWithClock(store SuspicionStore, accounts AccountRepository, limiter *RateLimiter, policy SuspensionPolicy, log logrus.FieldLogger, now func() time.Time) *SuspensionManager {
	def := DefaultSuspensionPolicy()
	if policy.FlagAfter <= 0 {
		policy.FlagAfter = def.FlagAfter
	}
	if policy.SuspendAfter <= 0 {
		policy.SuspendAfter = def.SuspendAfter
	}
	if policy.Window <= 0 {
		policy.Window = def.Window
	}
	if policy.Cooldown <= 0 {
		policy.Cooldown = def.Cooldown
	}
	return &SuspensionManager{
		store:    store,
		accounts: accounts,
		limiter:  limiter,
		policy:   policy,
		log:      log,
		now:      now,
	}
}

// Status reports the current state of the actor. A persisted account
// suspension counts while its cooldown runs, so it survives a restart or a
// lost suspicion record.
func (m *SuspensionManager) Status(ctx context.Context, actorID string) (State, error) {
	record, err := m.store.Get(ctx, actorID)
	if err != nil {
		return StateNormal, fmt.Errorf("suspicion record: %w", err)
	}
	if record.SuspendedAt(m.now()) {
		return StateSuspended, nil
	}

	account, err := m.accounts.Account(ctx, actorID)
	if err != nil {
		return StateNormal, fmt.Errorf("account: %w", err)
	}
	if account.SuspendedAt(m.now(), m.policy.Cooldown) {
		return StateSuspended, nil
	}
	return m.stateFor(record.Violations), nil
}

// RecordViolation counts a violation and escalates when a threshold is crossed.
func (m *SuspensionManager) RecordViolation(ctx context.Context, actorID string, kind ViolationKind) (State, error) {
	record, err := m.store.AddViolation(ctx, actorID, m.policy.Window)
	if err != nil {
		return StateNormal, fmt.Errorf("add violation: %w", err)
	}
	m.log.WithFields(logrus.Fields{
		"actor":      actorID,
		"kind":       kind,
		"violations": record.Violations,
	}).Warn("integrity violation recorded")

	if record.Violations >= m.policy.SuspendAfter {
		reason := fmt.Sprintf("%d violations within %s (last: %s)", record.Violations, m.policy.Window, kind)
		if err := m.Suspend(ctx, actorID, reason); err != nil {
			return StateSuspended, err
		}
		return StateSuspended, nil
	}
	return m.stateFor(record.Violations), nil
}

// Suspend marks the actor suspended. Repeated calls while suspended refresh
// the cooldown in the suspicion store, the user block and the persisted
// account timestamp; the reason of the first suspension is kept.
func (m *SuspensionManager) Suspend(ctx context.Context, actorID, reason string) error {
	now := m.now()
	before, err := m.store.Get(ctx, actorID)
	if err != nil {
		return fmt.Errorf("suspicion record: %w", err)
	}
	already := before.SuspendedAt(now)

	record, err := m.store.MarkSuspended(ctx, actorID, reason, m.policy.Cooldown)
	if err != nil {
		return fmt.Errorf("mark suspended: %w", err)
	}
	if err := m.limiter.Block(ctx, UserKey(actorID), m.policy.Cooldown); err != nil {
		return fmt.Errorf("block user key: %w", err)
	}

	persisted := reason
	if record.SuspendReason != "" {
		persisted = record.SuspendReason
	}
	if err := m.accounts.MarkSuspended(ctx, actorID, domain.Suspension{Reason: persisted, SuspendedAt: now}); err != nil {
		return fmt.Errorf("persist suspension: %w", err)
	}
	if already {
		return nil
	}
	m.log.WithFields(logrus.Fields{
		"actor":    actorID,
		"reason":   reason,
		"cooldown": m.policy.Cooldown,
	}).Warn("account suspended")
	return nil
}

func (m *SuspensionManager) stateFor(violations int) State {
	if violations >= m.policy.FlagAfter {
		return StateFlagged
	}
	return StateNormal
}
