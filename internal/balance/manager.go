// Package balance provides a per-owner, per-token balance cache with TTL
// refresh, feeding the Rebalance engine's weight computation and the
// Stop-Loss engine's partial-fill check (SPEC_FULL.md §2).
package balance

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"trading-core/internal/adapter"
	"trading-core/internal/clock"
	"trading-core/internal/domain"
)

// entry is one cached (owner, token) balance snapshot.
type entry struct {
	amount    *big.Int
	fetchedAt int64
}

// Cache caches balances fetched from an adapter.Exchange, refreshing a
// key lazily once its TTL has elapsed rather than polling on a ticker —
// callers (Rebalance, Stop-Loss) only need a value at decision time, not
// a continuously warm cache.
type Cache struct {
	mu       sync.RWMutex
	exchange adapter.Exchange
	clk      clock.Clock
	ttl      int64 // seconds
	entries  map[key]entry
}

type key struct {
	owner domain.Address
	token domain.Address
}

// NewCache builds a balance cache with the given TTL in seconds.
func NewCache(exchange adapter.Exchange, clk clock.Clock, ttlSeconds int64) *Cache {
	if ttlSeconds <= 0 {
		ttlSeconds = 30
	}
	return &Cache{
		exchange: exchange,
		clk:      clk,
		ttl:      ttlSeconds,
		entries:  make(map[key]entry),
	}
}

// Get returns the owner's balance of token, refreshing from the exchange
// if the cached entry is missing or stale.
func (c *Cache) Get(ctx context.Context, owner, token domain.Address) (*big.Int, error) {
	k := key{owner, token}
	now := c.clk.Now()

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if ok && now-e.fetchedAt < c.ttl {
		return new(big.Int).Set(e.amount), nil
	}

	return c.refresh(ctx, k, now)
}

// Invalidate forces the next Get for (owner, token) to refetch.
func (c *Cache) Invalidate(owner, token domain.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key{owner, token})
}

// Peek returns the cached value without refreshing, and whether it exists.
func (c *Cache) Peek(owner, token domain.Address) (*big.Int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key{owner, token}]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(e.amount), true
}

func (c *Cache) refresh(ctx context.Context, k key, now int64) (*big.Int, error) {
	if c.exchange == nil {
		return nil, fmt.Errorf("balance: no exchange configured")
	}
	amount, err := c.exchange.BalanceOf(ctx, k.owner, k.token)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[k] = entry{amount: new(big.Int).Set(amount), fetchedAt: now}
	c.mu.Unlock()

	return new(big.Int).Set(amount), nil
}

// Sufficient reports whether owner holds at least amount of token,
// refreshing the cache first. Used by the Stop-Loss engine's
// partial-fill check (SPEC_FULL.md §9 note (b)).
func (c *Cache) Sufficient(ctx context.Context, owner, token domain.Address, amount *big.Int) (bool, *big.Int, error) {
	bal, err := c.Get(ctx, owner, token)
	if err != nil {
		return false, nil, err
	}
	return bal.Cmp(amount) >= 0, bal, nil
}
