package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"xp-integrity-service/internal/domain"
)

// applySQL folds one granted answer into the row in a single statement, so
// concurrent grants for the same actor serialize on the row lock.
const applySQL = `
INSERT INTO points_aggregates AS p
    (actor_id, total_points, total_questions, total_correct, total_wrong, current_streak, max_streak, updated_at)
VALUES ($1, $2, 1, $3, $4, $3, $3, $5)
ON CONFLICT (actor_id) DO UPDATE SET
    total_points    = p.total_points + EXCLUDED.total_points,
    total_questions = p.total_questions + 1,
    total_correct   = p.total_correct + EXCLUDED.total_correct,
    total_wrong     = p.total_wrong + EXCLUDED.total_wrong,
    current_streak  = CASE WHEN EXCLUDED.total_correct = 1 THEN p.current_streak + 1 ELSE 0 END,
    max_streak      = GREATEST(p.max_streak, CASE WHEN EXCLUDED.total_correct = 1 THEN p.current_streak + 1 ELSE 0 END),
    updated_at      = EXCLUDED.updated_at
RETURNING total_points, total_questions, total_correct, total_wrong, current_streak, max_streak, updated_at`

const selectAggregateSQL = `
SELECT total_points, total_questions, total_correct, total_wrong, current_streak, max_streak, updated_at
FROM points_aggregates WHERE actor_id = $1`

// PointsStore keeps the authoritative points aggregate in Postgres.
type PointsStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPointsStore(pool *pgxpool.Pool) *PointsStore {
	return &PointsStore{pool: pool, now: time.Now}
}

func (s *PointsStore) Apply(ctx context.Context, actorID string, xp int, correct bool) (domain.PointsAggregate, error) {
	correctN, wrongN := 0, 1
	if correct {
		correctN, wrongN = 1, 0
	}
	agg := domain.PointsAggregate{ActorID: actorID}
	err := s.pool.QueryRow(ctx, applySQL, actorID, xp, correctN, wrongN, s.now().UTC()).Scan(
		&agg.TotalPoints, &agg.TotalQuestions, &agg.TotalCorrect, &agg.TotalWrong,
		&agg.CurrentStreak, &agg.MaxStreak, &agg.UpdatedAt,
	)
	if err != nil {
		return domain.PointsAggregate{}, fmt.Errorf("apply points: %w", err)
	}
	return agg, nil
}

// Get returns the aggregate, or a zero aggregate for an actor without grants.
func (s *PointsStore) Get(ctx context.Context, actorID string) (domain.PointsAggregate, error) {
	agg := domain.PointsAggregate{ActorID: actorID}
	err := s.pool.QueryRow(ctx, selectAggregateSQL, actorID).Scan(
		&agg.TotalPoints, &agg.TotalQuestions, &agg.TotalCorrect, &agg.TotalWrong,
		&agg.CurrentStreak, &agg.MaxStreak, &agg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PointsAggregate{ActorID: actorID}, nil
	}
	if err != nil {
		return domain.PointsAggregate{}, fmt.Errorf("load points: %w", err)
	}
	return agg, nil
}
