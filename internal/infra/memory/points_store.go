package memory

import (
	"context"
	"sync"
	"time"

	"xp-integrity-service/internal/domain"
)

// PointsStore keeps points aggregates in a map guarded by a mutex, so each
// Apply is an atomic read-modify-write.
type PointsStore struct {
	now func() time.Time

	mu    sync.Mutex
	items map[string]domain.PointsAggregate
}

func NewPointsStore() *PointsStore {
	return NewPointsStoreWithClock(time.Now)
}

// NewPointsStoreWithClock is test-only for deterministic timestamps.
func NewPointsStoreWithClock(now func() time.Time) *PointsStore {
	return &PointsStore{now: now, items: make(map[string]domain.PointsAggregate)}
}

func (s *PointsStore) Apply(_ context.Context, actorID string, xp int, correct bool) (domain.PointsAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.items[actorID]
	if !ok {
		agg = domain.PointsAggregate{ActorID: actorID}
	}
	agg.Apply(xp, correct, s.now())
	s.items[actorID] = agg
	return agg, nil
}

// Get returns the aggregate, or a zero aggregate for an unknown actor.
func (s *PointsStore) Get(_ context.Context, actorID string) (domain.PointsAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agg, ok := s.items[actorID]; ok {
		return agg, nil
	}
	return domain.PointsAggregate{ActorID: actorID}, nil
}
