package memory

import (
	"context"
	"sync"
	"time"
)

// RateLimitStore is a process-local implementation of integrity.RateLimitStore.
// Counters are not shared between instances.
type RateLimitStore struct {
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	windowStart  time.Time
	window       time.Duration
	count        int
	blockedUntil time.Time
}

func NewRateLimitStore() *RateLimitStore {
	return NewRateLimitStoreWithClock(time.Now)
}

// NewRateLimitStoreWithClock is test-only for deterministic windows.
func NewRateLimitStoreWithClock(now func() time.Time) *RateLimitStore {
	return &RateLimitStore{
		now:     now,
		buckets: make(map[string]*bucket),
	}
}

func (s *RateLimitStore) Hit(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b := s.bucketLocked(key)
	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= window {
		b.windowStart = now
		b.count = 0
	}
	b.window = window
	b.count++
	return b.count, b.windowStart.Add(window).Sub(now), nil
}

func (s *RateLimitStore) BlockedFor(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return 0, nil
	}
	if remaining := b.blockedUntil.Sub(s.now()); remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

func (s *RateLimitStore) Block(_ context.Context, key string, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bucketLocked(key).blockedUntil = s.now().Add(d)
	return nil
}

// Sweep drops buckets whose window and block have both expired.
func (s *RateLimitStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, b := range s.buckets {
		if now.Sub(b.windowStart) >= b.window && !now.Before(b.blockedUntil) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

func (s *RateLimitStore) bucketLocked(key string) *bucket {
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{}
		s.buckets[key] = b
	}
	return b
}
