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

// AccountStore reads profiles and persists suspensions in the accounts table.
type AccountStore struct {
	pool *pgxpool.Pool
}

func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Account returns the stored account, or a bare account for an unknown actor.
func (s *AccountStore) Account(ctx context.Context, actorID string) (domain.Account, error) {
	var (
		account     = domain.Account{ActorID: actorID}
		suspendedAt *time.Time
		reason      *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT display_name, country, region, suspended_at, suspension_reason FROM accounts WHERE actor_id=$1`,
		actorID,
	).Scan(&account.DisplayName, &account.Country, &account.Region, &suspendedAt, &reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{ActorID: actorID}, nil
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("load account: %w", err)
	}
	if suspendedAt != nil {
		account.Suspension = &domain.Suspension{SuspendedAt: suspendedAt.UTC()}
		if reason != nil {
			account.Suspension.Reason = *reason
		}
	}
	return account, nil
}

func (s *AccountStore) MarkSuspended(ctx context.Context, actorID string, suspension domain.Suspension) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO accounts (actor_id, suspended_at, suspension_reason) VALUES ($1, $2, $3)
ON CONFLICT (actor_id) DO UPDATE SET
    suspended_at      = EXCLUDED.suspended_at,
    suspension_reason = EXCLUDED.suspension_reason`,
		actorID, suspension.SuspendedAt.UTC(), suspension.Reason)
	if err != nil {
		return fmt.Errorf("persist suspension: %w", err)
	}
	return nil
}

// SaveProfile creates or updates the denormalized profile of an account.
func (s *AccountStore) SaveProfile(ctx context.Context, account domain.Account) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO accounts (actor_id, display_name, country, region) VALUES ($1, $2, $3, $4)
ON CONFLICT (actor_id) DO UPDATE SET
    display_name = EXCLUDED.display_name,
    country      = EXCLUDED.country,
    region       = EXCLUDED.region`,
		account.ActorID, account.DisplayName, account.Country, account.Region)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
