package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultL1TTL = 5 * time.Minute

// TwoPhaseCache reads through a local LRU (L1) to Redis (L2). Writes go to
// both levels; L1 entries never outlive min(ttl, L1 lifetime). Velocity
// counters bypass L1 so every instance sees the same count.
type TwoPhaseCache struct {
	l1    *LRUCache
	l2    *RedisCache
	l1TTL time.Duration
}

// NewTwoPhaseCache connects the Redis level and sizes the local one.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	l2, err := NewRedisCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("two-phase cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), l2, cfg.LocalTTL), nil
}

func newTwoPhase(l1 *LRUCache, l2 *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = defaultL1TTL
	}
	return &TwoPhaseCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

// Get serves L1 hits locally and back-fills L1 from L2 hits.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, _ := c.l1.Get(ctx, key); val != nil {
		return val, nil
	}
	val, err := c.l2.Get(ctx, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.l1.Set(ctx, key, val, c.l1TTL)
	return val, nil
}

func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = c.l1.Set(ctx, key, value, min(c.l1TTL, ttl))
	return c.l2.Set(ctx, key, value, ttl)
}

func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	_ = c.l1.Delete(ctx, key)
	return c.l2.Delete(ctx, key)
}

// GetRules returns the cached active rule set, or nil on a miss.
func (c *TwoPhaseCache) GetRules(ctx context.Context) ([]*domain.CustomRule, error) {
	return getRules(ctx, c)
}

// SetRules caches the active rule set at both levels.
func (c *TwoPhaseCache) SetRules(ctx context.Context, rules []*domain.CustomRule, ttl time.Duration) error {
	return setRules(ctx, c, rules, ttl)
}

func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return c.l2.IncrementCounter(ctx, key, window)
}

// Ping only probes Redis; the local level cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	return c.l2.Ping(ctx)
}

func (c *TwoPhaseCache) Close() error {
	return errors.Join(c.l1.Close(), c.l2.Close())
}

// Stats reports L1 occupancy.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.l1.Stats()
}
