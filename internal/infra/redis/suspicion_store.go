package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"xp-integrity-service/internal/integrity"
)

const idleSuspicionTTL = time.Hour

var violationScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return n
`)

// suspendScript keeps the reason of a running suspension and refreshes its
// expiry to the new cooldown.
var suspendScript = redis.NewScript(`
local reason = redis.call('GET', KEYS[1])
if not reason then
	reason = ARGV[1]
end
redis.call('SET', KEYS[1], reason, 'PX', ARGV[2])
return reason
`)

// SuspicionStore is the shared implementation of integrity.SuspicionStore:
//
//	susp:{id}:violations  windowed counter
//	susp:{id}:last        unix ms of the last violation
//	susp:{id}:latencies   list of latency ms, newest first, trimmed to N
//	susp:{id}:suspended   suspension reason, expiring with the cooldown
type SuspicionStore struct {
	client  *redis.Client
	samples int
	now     func() time.Time
}

func NewSuspicionStore(client *redis.Client, samples int) *SuspicionStore {
	return NewSuspicionStoreWithClock(client, samples, time.Now)
}

// NewSuspicionStoreWithClock is test-only for deterministic timestamps.
func NewSuspicionStoreWithClock(client *redis.Client, samples int, now func() time.Time) *SuspicionStore {
	if samples <= 0 {
		samples = integrity.DefaultLatencySamples
	}
	return &SuspicionStore{client: client, samples: samples, now: now}
}

func (s *SuspicionStore) Get(ctx context.Context, actorID string) (integrity.SuspicionRecord, error) {
	pipe := s.client.Pipeline()
	violations := pipe.Get(ctx, suspicionKey(actorID, "violations"))
	last := pipe.Get(ctx, suspicionKey(actorID, "last"))
	latencies := pipe.LRange(ctx, suspicionKey(actorID, "latencies"), 0, -1)
	reason := pipe.Get(ctx, suspicionKey(actorID, "suspended"))
	remaining := pipe.PTTL(ctx, suspicionKey(actorID, "suspended"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return integrity.SuspicionRecord{}, fmt.Errorf("read suspicion record: %w", err)
	}

	record := integrity.SuspicionRecord{ActorID: actorID}
	if n, err := violations.Int(); err == nil {
		record.Violations = n
	}
	if ms, err := last.Int64(); err == nil {
		record.LastViolation = time.UnixMilli(ms).UTC()
	}
	raw := latencies.Val()
	record.Latencies = make([]int64, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		if v, err := strconv.ParseInt(raw[i], 10, 64); err == nil {
			record.Latencies = append(record.Latencies, v)
		}
	}
	if r, err := reason.Result(); err == nil {
		record.SuspendReason = r
		if ttl := remaining.Val(); ttl > 0 {
			record.SuspendedUntil = s.now().Add(ttl)
		}
	}
	return record, nil
}

func (s *SuspicionStore) AddViolation(ctx context.Context, actorID string, window time.Duration) (integrity.SuspicionRecord, error) {
	keys := []string{suspicionKey(actorID, "violations"), suspicionKey(actorID, "last")}
	err := violationScript.Run(ctx, s.client, keys,
		window.Milliseconds(), s.now().UnixMilli(), idleSuspicionTTL.Milliseconds()).Err()
	if err != nil {
		return integrity.SuspicionRecord{}, fmt.Errorf("add violation: %w", err)
	}
	return s.Get(ctx, actorID)
}

func (s *SuspicionStore) AddLatency(ctx context.Context, actorID string, latency time.Duration) error {
	key := suspicionKey(actorID, "latencies")
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, latency.Milliseconds())
	pipe.LTrim(ctx, key, 0, int64(s.samples-1))
	pipe.Expire(ctx, key, idleSuspicionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add latency: %w", err)
	}
	return nil
}

func (s *SuspicionStore) MarkSuspended(ctx context.Context, actorID, reason string, cooldown time.Duration) (integrity.SuspicionRecord, error) {
	err := suspendScript.Run(ctx, s.client, []string{suspicionKey(actorID, "suspended")}, reason, cooldown.Milliseconds()).Err()
	if err != nil {
		return integrity.SuspicionRecord{}, fmt.Errorf("mark suspended: %w", err)
	}
	return s.Get(ctx, actorID)
}

func suspicionKey(actorID, field string) string {
	return "susp:" + actorID + ":" + field
}
