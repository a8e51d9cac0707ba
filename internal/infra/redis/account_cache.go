package redis

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"xp-integrity-service/internal/domain"
)

// AccountLoader reads and writes accounts in the identity store.
type AccountLoader interface {
	Account(ctx context.Context, actorID string) (domain.Account, error)
	MarkSuspended(ctx context.Context, actorID string, suspension domain.Suspension) error
}

// AccountCache caches accounts in Redis (hash per actor) and falls back to a
// loader on cache miss. The hash is shared by every instance:
//
//	HSET account:{actorID} actor_id .. display_name .. country .. region ..
//	     suspended_at {unix ms} suspension_reason ..
type AccountCache struct {
	client *redis.Client
	loader AccountLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewAccountCache(client *redis.Client, loader AccountLoader, ttl time.Duration) *AccountCache {
	return &AccountCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *AccountCache) Account(ctx context.Context, actorID string) (domain.Account, error) {
	key := accountKey(actorID)

	fields, err := c.client.HGetAll(ctx, key).Result()
	if err == nil && len(fields) > 0 {
		return accountFromHash(actorID, fields), nil
	}

	result, err, _ := c.sf.Do(actorID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		fields, err := c.client.HGetAll(ctx, key).Result()
		if err == nil && len(fields) > 0 {
			return accountFromHash(actorID, fields), nil
		}

		account, err := c.loader.Account(ctx, actorID)
		if err != nil {
			return domain.Account{}, err
		}

		pipe := c.client.Pipeline()
		pipe.HSet(ctx, key, accountToHash(account))
		if ttl := c.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return account, nil
	})
	if err != nil {
		return domain.Account{}, err
	}
	return result.(domain.Account), nil
}

// MarkSuspended writes through to the loader and drops the cached hash so
// every instance rereads the suspension.
func (c *AccountCache) MarkSuspended(ctx context.Context, actorID string, suspension domain.Suspension) error {
	if err := c.loader.MarkSuspended(ctx, actorID, suspension); err != nil {
		return err
	}
	return c.client.Del(ctx, accountKey(actorID)).Err()
}

func accountKey(actorID string) string {
	return "account:" + actorID
}

func accountToHash(account domain.Account) map[string]interface{} {
	fields := map[string]interface{}{
		"actor_id":     account.ActorID,
		"display_name": account.DisplayName,
		"country":      account.Country,
		"region":       account.Region,
	}
	if account.Suspension != nil {
		fields["suspended_at"] = account.Suspension.SuspendedAt.UnixMilli()
		fields["suspension_reason"] = account.Suspension.Reason
	}
	return fields
}

func accountFromHash(actorID string, fields map[string]string) domain.Account {
	account := domain.Account{
		ActorID:     actorID,
		DisplayName: fields["display_name"],
		Country:     fields["country"],
		Region:      fields["region"],
	}
	if raw, ok := fields["suspended_at"]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			account.Suspension = &domain.Suspension{
				Reason:      fields["suspension_reason"],
				SuspendedAt: time.UnixMilli(ms).UTC(),
			}
		}
	}
	return account
}

func (c *AccountCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
