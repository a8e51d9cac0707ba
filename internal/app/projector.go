package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"xp-integrity-service/internal/domain"
	"xp-integrity-service/internal/metrics"
)

const (
	defaultMergeRetries = 5
	defaultMergeBackoff = 5 * time.Millisecond
)

// LeaderboardRepository stores leaderboard documents with version-checked writes.
type LeaderboardRepository interface {
	Get(ctx context.Context, actorID string) (domain.LeaderboardDocument, bool, error)
	// CompareAndSwap writes doc when the stored version equals expected (zero
	// for a missing document) and returns it with the new version, or
	// domain.ErrVersionConflict.
	CompareAndSwap(ctx context.Context, doc domain.LeaderboardDocument, expected int64) (domain.LeaderboardDocument, error)
	Top(ctx context.Context, region string, limit int) ([]domain.LeaderboardEntry, error)
}

// AccountReader provides the denormalized profile fields.
type AccountReader interface {
	Account(ctx context.Context, actorID string) (domain.Account, error)
}

// Attempt is one grant attempt as seen by the projector.
type Attempt struct {
	ActorID string
	Correct bool
	Granted bool
	XP      int
	Subject string
	// Aggregate is the points aggregate returned by the grant, nil when withheld.
	Aggregate *domain.PointsAggregate
}

// Projector maintains the per-learner leaderboard documents.
type Projector struct {
	store    LeaderboardRepository
	accounts AccountReader
	feed     *LeaderboardFeed
	metrics  *metrics.Metrics
	loc      *time.Location
	now      func() time.Time
	retries  uint64
}

func NewProjector(store LeaderboardRepository, accounts AccountReader, feed *LeaderboardFeed, m *metrics.Metrics, loc *time.Location) *Projector {
	return NewProjectorWithClock(store, accounts, feed, m, loc, time.Now)
}

// NewProjectorWithClock allows deterministic day boundaries in tests.
func NewProjectorWithClock(store LeaderboardRepository, accounts AccountReader, feed *LeaderboardFeed, m *metrics.Metrics, loc *time.Location, now func() time.Time) *Projector {
	if loc == nil {
		loc = time.UTC
	}
	return &Projector{
		store:    store,
		accounts: accounts,
		feed:     feed,
		metrics:  m,
		loc:      loc,
		now:      now,
		retries:  defaultMergeRetries,
	}
}

// Today returns the leaderboard calendar day of now.
func (p *Projector) Today() string {
	return p.now().In(p.loc).Format(domain.DateLayout)
}

// DayStart returns the first instant of the current leaderboard day.
func (p *Projector) DayStart() time.Time {
	now := p.now().In(p.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.loc)
}

// Merge folds one attempt into the actor's document. Same-day counters move on
// every attempt; cumulative fields only move on grants.
func (p *Projector) Merge(ctx context.Context, attempt Attempt) (domain.LeaderboardDocument, error) {
	profile, profileErr := p.accounts.Account(ctx, attempt.ActorID)

	return p.update(ctx, attempt.ActorID, func(doc domain.LeaderboardDocument) (domain.LeaderboardDocument, bool) {
		doc = mergeAttempt(doc, attempt, p.Today())
		if profileErr == nil {
			applyProfile(&doc, profile)
		}
		doc.UpdatedAt = p.now()
		return doc, true
	})
}

// Reconcile raises the document toward the authoritative aggregate and the
// ledger's same-day counts. It reports whether a write was needed.
func (p *Projector) Reconcile(ctx context.Context, agg domain.PointsAggregate, today domain.ActivityCount) (domain.LeaderboardDocument, bool, error) {
	changed := false
	doc, err := p.update(ctx, agg.ActorID, func(doc domain.LeaderboardDocument) (domain.LeaderboardDocument, bool) {
		var ok bool
		doc, ok = reconcileDocument(doc, agg, today, p.Today())
		if ok {
			doc.UpdatedAt = p.now()
		}
		changed = ok
		return doc, ok
	})
	return doc, changed, err
}

// Top returns the ranking for a region, or the global ranking when empty.
func (p *Projector) Top(ctx context.Context, region string, limit int) ([]domain.LeaderboardEntry, error) {
	return p.store.Top(ctx, region, limit)
}

// Document returns the actor's current document.
func (p *Projector) Document(ctx context.Context, actorID string) (domain.LeaderboardDocument, bool, error) {
	return p.store.Get(ctx, actorID)
}

// update runs a read-modify-write against the store and retries with
// exponential backoff when the version check fails.
func (p *Projector) update(ctx context.Context, actorID string, mutate func(domain.LeaderboardDocument) (domain.LeaderboardDocument, bool)) (domain.LeaderboardDocument, error) {
	var result domain.LeaderboardDocument
	written := false

	op := func() error {
		existing, found, err := p.store.Get(ctx, actorID)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read leaderboard document: %w", err))
		}
		expected := int64(0)
		if found {
			expected = existing.Version
		} else {
			existing = domain.LeaderboardDocument{ActorID: actorID}
		}

		doc, write := mutate(existing)
		if !write {
			result = existing
			return nil
		}
		saved, err := p.store.CompareAndSwap(ctx, doc, expected)
		if errors.Is(err, domain.ErrVersionConflict) {
			p.metrics.IncMergeConflict()
			return err
		}
		if err != nil {
			return backoff.Permanent(fmt.Errorf("write leaderboard document: %w", err))
		}
		result = saved
		written = true
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = defaultMergeBackoff
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, p.retries), ctx)); err != nil {
		return domain.LeaderboardDocument{}, err
	}
	if written && p.feed != nil {
		p.feed.Publish(result)
	}
	return result, nil
}

func mergeAttempt(doc domain.LeaderboardDocument, attempt Attempt, today string) domain.LeaderboardDocument {
	if doc.TodayDate == today {
		doc.TodayQuestions++
		if attempt.Correct {
			doc.TodayCorrect++
		}
	} else {
		doc.TodayDate = today
		doc.TodayQuestions = 1
		doc.TodayCorrect = 0
		if attempt.Correct {
			doc.TodayCorrect = 1
		}
	}

	if !attempt.Granted {
		return doc
	}

	if attempt.Aggregate != nil {
		// The snapshot already counts this attempt, so merges landing out of
		// order converge on the aggregate instead of adding the delta twice.
		snap := *attempt.Aggregate
		if snap.TotalQuestions > doc.TotalQuestions {
			doc.CurrentStreak = snap.CurrentStreak
		}
		doc.TotalPoints = max(doc.TotalPoints, snap.TotalPoints)
		doc.TotalQuestions = max(doc.TotalQuestions, snap.TotalQuestions)
		doc.TotalCorrect = max(doc.TotalCorrect, snap.TotalCorrect)
		doc.TotalWrong = max(doc.TotalWrong, snap.TotalWrong)
		doc.MaxStreak = max(doc.MaxStreak, snap.MaxStreak, doc.CurrentStreak)
	} else {
		doc.TotalPoints += attempt.XP
		doc.TotalQuestions++
		if attempt.Correct {
			doc.TotalCorrect++
			doc.CurrentStreak++
		} else {
			doc.TotalWrong++
			doc.CurrentStreak = 0
		}
		doc.MaxStreak = max(doc.MaxStreak, doc.CurrentStreak)
	}
	if attempt.Subject != "" {
		if doc.SubjectPoints == nil {
			doc.SubjectPoints = make(map[string]int)
		}
		doc.SubjectPoints[attempt.Subject] += attempt.XP
	}
	return doc
}

// raiseToward moves cumulative fields up to the aggregate and takes its
// streak when the aggregate is at least as recent as the document.
func raiseToward(doc *domain.LeaderboardDocument, agg domain.PointsAggregate) bool {
	before := *doc
	if agg.TotalQuestions >= doc.TotalQuestions {
		doc.CurrentStreak = agg.CurrentStreak
	}
	doc.TotalPoints = max(doc.TotalPoints, agg.TotalPoints)
	doc.TotalQuestions = max(doc.TotalQuestions, agg.TotalQuestions)
	doc.TotalCorrect = max(doc.TotalCorrect, agg.TotalCorrect)
	doc.TotalWrong = max(doc.TotalWrong, agg.TotalWrong)
	doc.MaxStreak = max(doc.MaxStreak, agg.MaxStreak, doc.CurrentStreak)

	return before.TotalPoints != doc.TotalPoints ||
		before.TotalQuestions != doc.TotalQuestions ||
		before.TotalCorrect != doc.TotalCorrect ||
		before.TotalWrong != doc.TotalWrong ||
		before.CurrentStreak != doc.CurrentStreak ||
		before.MaxStreak != doc.MaxStreak
}

func reconcileDocument(doc domain.LeaderboardDocument, agg domain.PointsAggregate, today domain.ActivityCount, todayDate string) (domain.LeaderboardDocument, bool) {
	changed := raiseToward(&doc, agg)

	switch {
	case doc.TodayDate == todayDate:
		if today.Attempts > doc.TodayQuestions {
			doc.TodayQuestions = today.Attempts
			changed = true
		}
		if today.Correct > doc.TodayCorrect {
			doc.TodayCorrect = today.Correct
			changed = true
		}
	case today.Attempts > 0:
		doc.TodayDate = todayDate
		doc.TodayQuestions = today.Attempts
		doc.TodayCorrect = today.Correct
		changed = true
	}
	return doc, changed
}

func applyProfile(doc *domain.LeaderboardDocument, account domain.Account) {
	if account.DisplayName != "" {
		doc.DisplayName = account.DisplayName
	}
	if account.Country != "" {
		doc.Country = account.Country
	}
	if account.Region != "" {
		doc.Region = account.Region
	}
}
