package app

import "xp-integrity-service/internal/domain"

// Replay folds the granted events of an actor, in ledger order, into the
// points aggregate they imply. Withheld events never touch the totals or
// the streak.
func Replay(actorID string, events []domain.AnswerEvent) domain.PointsAggregate {
	agg := domain.PointsAggregate{ActorID: actorID}
	for _, ev := range events {
		if ev.ActorID != actorID || !ev.Granted {
			continue
		}
		agg.Apply(ev.GrantedXP, ev.IsCorrect, ev.CreatedAt)
	}
	return agg
}

// SameTotals reports whether two aggregates agree on every counter.
func SameTotals(a, b domain.PointsAggregate) bool {
	return a.TotalPoints == b.TotalPoints &&
		a.TotalQuestions == b.TotalQuestions &&
		a.TotalCorrect == b.TotalCorrect &&
		a.TotalWrong == b.TotalWrong &&
		a.CurrentStreak == b.CurrentStreak &&
		a.MaxStreak == b.MaxStreak
}
