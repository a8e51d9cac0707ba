package memory

import (
	"context"
	"sync"
	"time"

	"xp-integrity-service/internal/integrity"
)

// idleSuspicionTTL is how long an untouched, unsuspended record is kept.
const idleSuspicionTTL = time.Hour

// SuspicionStore is a process-local implementation of integrity.SuspicionStore.
type SuspicionStore struct {
	samples int
	now     func() time.Time

	mu      sync.Mutex
	records map[string]*suspicion
}

type suspicion struct {
	violations     int
	windowStart    time.Time
	window         time.Duration
	lastViolation  time.Time
	latencies      *integrity.LatencyRing
	suspendedUntil time.Time
	reason         string
	touched        time.Time
}

func NewSuspicionStore(samples int) *SuspicionStore {
	return NewSuspicionStoreWithClock(samples, time.Now)
}

// NewSuspicionStoreWithClock is test-only for deterministic windows.
func NewSuspicionStoreWithClock(samples int, now func() time.Time) *SuspicionStore {
	if samples <= 0 {
		samples = integrity.DefaultLatencySamples
	}
	return &SuspicionStore{
		samples: samples,
		now:     now,
		records: make(map[string]*suspicion),
	}
}

func (s *SuspicionStore) Get(_ context.Context, actorID string) (integrity.SuspicionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[actorID]
	if !ok {
		return integrity.SuspicionRecord{ActorID: actorID}, nil
	}
	return s.snapshotLocked(actorID, rec), nil
}

func (s *SuspicionStore) AddViolation(_ context.Context, actorID string, window time.Duration) (integrity.SuspicionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := s.recordLocked(actorID)
	if rec.windowStart.IsZero() || now.Sub(rec.windowStart) >= window {
		rec.windowStart = now
		rec.violations = 0
	}
	rec.window = window
	rec.violations++
	rec.lastViolation = now
	rec.touched = now
	return s.snapshotLocked(actorID, rec), nil
}

func (s *SuspicionStore) AddLatency(_ context.Context, actorID string, latency time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.recordLocked(actorID)
	rec.latencies.Push(latency.Milliseconds())
	rec.touched = s.now()
	return nil
}

func (s *SuspicionStore) MarkSuspended(_ context.Context, actorID, reason string, cooldown time.Duration) (integrity.SuspicionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := s.recordLocked(actorID)
	if !now.Before(rec.suspendedUntil) || rec.reason == "" {
		rec.reason = reason
	}
	rec.suspendedUntil = now.Add(cooldown)
	rec.touched = now
	return s.snapshotLocked(actorID, rec), nil
}

// Sweep drops idle records that are not serving a suspension.
func (s *SuspicionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, rec := range s.records {
		if now.Sub(rec.touched) >= idleSuspicionTTL && !now.Before(rec.suspendedUntil) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

func (s *SuspicionStore) recordLocked(actorID string) *suspicion {
	rec, ok := s.records[actorID]
	if !ok {
		rec = &suspicion{latencies: integrity.NewLatencyRing(s.samples)}
		s.records[actorID] = rec
	}
	return rec
}

func (s *SuspicionStore) snapshotLocked(actorID string, rec *suspicion) integrity.SuspicionRecord {
	violations := rec.violations
	if rec.window > 0 && s.now().Sub(rec.windowStart) >= rec.window {
		violations = 0
	}
	return integrity.SuspicionRecord{
		ActorID:        actorID,
		Violations:     violations,
		LastViolation:  rec.lastViolation,
		Latencies:      rec.latencies.Values(),
		SuspendedUntil: rec.suspendedUntil,
		SuspendReason:  rec.reason,
	}
}
