package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"xp-integrity-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// AccountLoader reads and writes accounts in the identity store.
type AccountLoader interface {
	Account(ctx context.Context, actorID string) (domain.Account, error)
	MarkSuspended(ctx context.Context, actorID string, suspension domain.Suspension) error
}

// AccountCache caches account lookups with TTL to avoid a store hit per grant.
type AccountCache struct {
	loader AccountLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedAccount
}

type cachedAccount struct {
	account   domain.Account
	expiresAt time.Time
}

func NewAccountCache(loader AccountLoader, ttl time.Duration) *AccountCache {
	return &AccountCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedAccount),
	}
}

func (c *AccountCache) Account(ctx context.Context, actorID string) (domain.Account, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[actorID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.account, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(actorID, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[actorID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.account, nil
		}
		c.mu.RUnlock()

		account, err := c.loader.Account(ctx, actorID)
		if err != nil {
			return domain.Account{}, err
		}
		c.store(actorID, account, now)
		return account, nil
	})
	if err != nil {
		return domain.Account{}, err
	}
	return result.(domain.Account), nil
}

// MarkSuspended writes through to the loader and updates the cached entry so
// the suspension is visible immediately on this instance.
func (c *AccountCache) MarkSuspended(ctx context.Context, actorID string, suspension domain.Suspension) error {
	if err := c.loader.MarkSuspended(ctx, actorID, suspension); err != nil {
		return err
	}
	account, err := c.loader.Account(ctx, actorID)
	if err != nil {
		c.mu.Lock()
		delete(c.cache, actorID)
		c.mu.Unlock()
		return nil
	}
	c.store(actorID, account, c.clock())
	return nil
}

func (c *AccountCache) store(actorID string, account domain.Account, now time.Time) {
	c.mu.Lock()
	c.cache[actorID] = cachedAccount{
		account:   account,
		expiresAt: now.Add(c.ttlWithJitter()),
	}
	c.mu.Unlock()
}

func (c *AccountCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
