package memory

import (
	"context"
	"sync"

	"xp-integrity-service/internal/domain"
)

// AccountStore is a simple account store backed by an in-memory map (useful for tests/demos).
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
}

func NewAccountStore(seed map[string]domain.Account) *AccountStore {
	accounts := make(map[string]domain.Account, len(seed))
	for id, acct := range seed {
		acct.ActorID = id
		accounts[id] = acct
	}
	return &AccountStore{accounts: accounts}
}

// Account returns the stored account, or a bare unsuspended account for an unknown actor.
func (s *AccountStore) Account(_ context.Context, actorID string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if acct, ok := s.accounts[actorID]; ok {
		return acct, nil
	}
	return domain.Account{ActorID: actorID}, nil
}

// MarkSuspended records the latest suspension of an account.
func (s *AccountStore) MarkSuspended(_ context.Context, actorID string, suspension domain.Suspension) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[actorID]
	if !ok {
		acct = domain.Account{ActorID: actorID}
	}
	acct.Suspension = &suspension
	s.accounts[actorID] = acct
	return nil
}
