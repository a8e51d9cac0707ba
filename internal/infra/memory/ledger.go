package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"xp-integrity-service/internal/domain"
)

// Ledger is an in-memory, append-only answer event log (useful for tests/demos).
type Ledger struct {
	mu     sync.RWMutex
	events []domain.AnswerEvent
}

func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Append(_ context.Context, event domain.AnswerEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *Ledger) Activity(_ context.Context, actorID string, since time.Time) (domain.ActivityCount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var count domain.ActivityCount
	for _, ev := range l.events {
		if ev.ActorID != actorID || ev.CreatedAt.Before(since) {
			continue
		}
		count.Attempts++
		if ev.IsCorrect {
			count.Correct++
		}
	}
	return count, nil
}

func (l *Ledger) HasRecentAttempt(_ context.Context, actorID, questionID string, since time.Time) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, ev := range l.events {
		if ev.ActorID == actorID && ev.QuestionID == questionID && !ev.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// Events returns the actor's events ordered by creation time.
func (l *Ledger) Events(_ context.Context, actorID string) ([]domain.AnswerEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.AnswerEvent, 0)
	for _, ev := range l.events {
		if ev.ActorID == actorID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (l *Ledger) ActiveActors(_ context.Context, since time.Time) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]struct{})
	actors := make([]string, 0)
	for _, ev := range l.events {
		if ev.CreatedAt.Before(since) {
			continue
		}
		if _, ok := seen[ev.ActorID]; ok {
			continue
		}
		seen[ev.ActorID] = struct{}{}
		actors = append(actors, ev.ActorID)
	}
	sort.Strings(actors)
	return actors, nil
}

// Len reports how many events were appended.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
