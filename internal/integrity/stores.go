package integrity

import (
	"context"
	"time"
)

// RateLimitStore keeps fixed-window counters and block markers per key.
// A process-local map and a shared cache are interchangeable implementations.
type RateLimitStore interface {
	// Hit counts one request for key in the current window and returns the
	// count so far plus the time left until the window resets.
	Hit(ctx context.Context, key string, window time.Duration) (int, time.Duration, error)
	// BlockedFor returns the remaining block duration, zero when not blocked.
	BlockedFor(ctx context.Context, key string) (time.Duration, error)
	// Block marks key as blocked for d from now, replacing any earlier block.
	Block(ctx context.Context, key string, d time.Duration) error
}

// SuspicionStore keeps per-actor violation counters and latency samples.
type SuspicionStore interface {
	Get(ctx context.Context, actorID string) (SuspicionRecord, error)
	// AddViolation counts a violation; the counter restarts once window has
	// elapsed since the first violation it holds.
	AddViolation(ctx context.Context, actorID string, window time.Duration) (SuspicionRecord, error)
	AddLatency(ctx context.Context, actorID string, latency time.Duration) error
	MarkSuspended(ctx context.Context, actorID, reason string, cooldown time.Duration) (SuspicionRecord, error)
}

// SuspicionRecord is the ephemeral integrity state of one actor.
type SuspicionRecord struct {
	ActorID        string
	Violations     int
	LastViolation  time.Time
	Latencies      []int64 // milliseconds, oldest first
	SuspendedUntil time.Time
	SuspendReason  string
}

// AverageLatency returns the mean of the recorded latencies.
func (r SuspicionRecord) AverageLatency() (float64, bool) {
	if len(r.Latencies) == 0 {
		return 0, false
	}
	var sum int64
	for _, v := range r.Latencies {
		sum += v
	}
	return float64(sum) / float64(len(r.Latencies)), true
}

// SuspendedAt reports whether the suspension cooldown is still running at now.
func (r SuspicionRecord) SuspendedAt(now time.Time) bool {
	return !r.SuspendedUntil.IsZero() && now.Before(r.SuspendedUntil)
}

// LatencyRing is a bounded ring of the most recent latency samples.
type LatencyRing struct {
	buf  []int64
	next int
	size int
}

func NewLatencyRing(capacity int) *LatencyRing {
	if capacity <= 0 {
		capacity = DefaultLatencySamples
	}
	return &LatencyRing{buf: make([]int64, capacity)}
}

// Push stores v, overwriting the oldest sample once full.
func (r *LatencyRing) Push(v int64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// Values returns the samples oldest first.
func (r *LatencyRing) Values() []int64 {
	out := make([]int64, 0, r.size)
	start := (r.next - r.size + len(r.buf)) % len(r.buf)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// DefaultLatencySamples is the ring size used when none is configured.
const DefaultLatencySamples = 20
