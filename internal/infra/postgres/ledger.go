package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"xp-integrity-service/internal/domain"
)

type answerEventRow struct {
	bun.BaseModel `bun:"table:answer_events"`

	ID               string    `bun:"id,pk,type:uuid"`
	ActorID          string    `bun:"actor_id,notnull"`
	QuestionID       string    `bun:"question_id,notnull"`
	IsCorrect        bool      `bun:"is_correct,notnull"`
	RequestedXP      int       `bun:"requested_xp,notnull"`
	GrantedXP        int       `bun:"granted_xp,notnull"`
	Granted          bool      `bun:"granted,notnull"`
	WithheldReason   string    `bun:"withheld_reason,notnull"`
	Source           string    `bun:"source,notnull"`
	Subject          string    `bun:"subject,notnull"`
	ElapsedMs        *int64    `bun:"elapsed_ms"`
	ClientIP         string    `bun:"client_ip,notnull"`
	UserAgent        string    `bun:"user_agent,notnull"`
	AnomalyScore     int       `bun:"anomaly_score,notnull"`
	TotalPointsAfter int       `bun:"total_points_after,notnull"`
	StreakAfter      int       `bun:"streak_after,notnull"`
	CreatedAt        time.Time `bun:"created_at,notnull"`
}

func toRow(ev domain.AnswerEvent) answerEventRow {
	return answerEventRow{
		ID:               ev.ID,
		ActorID:          ev.ActorID,
		QuestionID:       ev.QuestionID,
		IsCorrect:        ev.IsCorrect,
		RequestedXP:      ev.RequestedXP,
		GrantedXP:        ev.GrantedXP,
		Granted:          ev.Granted,
		WithheldReason:   ev.WithheldReason,
		Source:           ev.Source,
		Subject:          ev.Subject,
		ElapsedMs:        ev.ElapsedMs,
		ClientIP:         ev.ClientIP,
		UserAgent:        ev.UserAgent,
		AnomalyScore:     ev.AnomalyScore,
		TotalPointsAfter: ev.TotalPointsAfter,
		StreakAfter:      ev.StreakAfter,
		CreatedAt:        ev.CreatedAt.UTC(),
	}
}

func (r answerEventRow) event() domain.AnswerEvent {
	return domain.AnswerEvent{
		ID:               r.ID,
		ActorID:          r.ActorID,
		QuestionID:       r.QuestionID,
		IsCorrect:        r.IsCorrect,
		RequestedXP:      r.RequestedXP,
		GrantedXP:        r.GrantedXP,
		Granted:          r.Granted,
		WithheldReason:   r.WithheldReason,
		Source:           r.Source,
		Subject:          r.Subject,
		ElapsedMs:        r.ElapsedMs,
		ClientIP:         r.ClientIP,
		UserAgent:        r.UserAgent,
		AnomalyScore:     r.AnomalyScore,
		TotalPointsAfter: r.TotalPointsAfter,
		StreakAfter:      r.StreakAfter,
		CreatedAt:        r.CreatedAt,
	}
}

// Ledger is the append-only answer_events table. Rows are never updated or
// deleted; a trigger rejects both.
type Ledger struct {
	db *bun.DB
}

func NewLedger(db *bun.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Append(ctx context.Context, event domain.AnswerEvent) error {
	row := toRow(event)
	if _, err := l.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("append answer event: %w", err)
	}
	return nil
}

func (l *Ledger) Activity(ctx context.Context, actorID string, since time.Time) (domain.ActivityCount, error) {
	var count domain.ActivityCount
	err := l.db.NewSelect().
		Model((*answerEventRow)(nil)).
		ColumnExpr("count(*)").
		ColumnExpr("count(*) FILTER (WHERE is_correct)").
		Where("actor_id = ?", actorID).
		Where("created_at >= ?", since.UTC()).
		Scan(ctx, &count.Attempts, &count.Correct)
	if err != nil {
		return domain.ActivityCount{}, fmt.Errorf("count activity: %w", err)
	}
	return count, nil
}

func (l *Ledger) HasRecentAttempt(ctx context.Context, actorID, questionID string, since time.Time) (bool, error) {
	exists, err := l.db.NewSelect().
		Model((*answerEventRow)(nil)).
		Where("actor_id = ?", actorID).
		Where("question_id = ?", questionID).
		Where("created_at >= ?", since.UTC()).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check recent attempt: %w", err)
	}
	return exists, nil
}

// Events returns the actor's events ordered by creation time.
func (l *Ledger) Events(ctx context.Context, actorID string) ([]domain.AnswerEvent, error) {
	var rows []answerEventRow
	err := l.db.NewSelect().
		Model(&rows).
		Where("actor_id = ?", actorID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load answer events: %w", err)
	}
	events := make([]domain.AnswerEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.event())
	}
	return events, nil
}

func (l *Ledger) ActiveActors(ctx context.Context, since time.Time) ([]string, error) {
	var actors []string
	err := l.db.NewSelect().
		Model((*answerEventRow)(nil)).
		ColumnExpr("DISTINCT actor_id").
		Where("created_at >= ?", since.UTC()).
		OrderExpr("actor_id").
		Scan(ctx, &actors)
	if err != nil {
		return nil, fmt.Errorf("list active actors: %w", err)
	}
	return actors, nil
}
