// Package cache provides caching implementations for Kestrel.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultLRUCapacity = 10000

// LRUCache is an in-process cache bounded by entry count. Entries expire
// after their TTL; the least recently read entry is evicted first.
// It backs the standalone profile and serves as L1 of TwoPhaseCache.
type LRUCache struct {
	capacity int

	mu      sync.RWMutex
	recency *list.List // front is most recently used
	entries map[string]*list.Element
	windows map[string]counterWindow
}

type lruEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// counterWindow is one fixed velocity window.
type counterWindow struct {
	count   int64
	expires time.Time
}

// NewLRUCache returns a cache holding at most capacity entries.
// Non-positive capacities fall back to ten thousand.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = defaultLRUCapacity
	}
	c := &LRUCache{capacity: capacity}
	c.reset()
	return c
}

func (c *LRUCache) reset() {
	c.recency = list.New()
	c.entries = make(map[string]*list.Element)
	c.windows = make(map[string]counterWindow)
}

// Get returns the live value for key, or nil on a miss.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el := c.live(key, time.Now())
	if el == nil {
		return nil, nil
	}
	c.recency.MoveToFront(el)
	return el.Value.(*lruEntry).value, nil
}

// Set stores value under key until ttl elapses.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := time.Now().Add(ttl)
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*lruEntry)
		e.value, e.expires = value, expires
		c.recency.MoveToFront(el)
		return nil
	}

	c.entries[key] = c.recency.PushFront(&lruEntry{key: key, value: value, expires: expires})
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
	}
	return nil
}

func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.drop(el)
	}
	return nil
}

// GetRules returns the cached active rule set, or nil on a miss.
func (c *LRUCache) GetRules(ctx context.Context) ([]*domain.CustomRule, error) {
	return getRules(ctx, c)
}

// SetRules caches the active rule set.
func (c *LRUCache) SetRules(ctx context.Context, rules []*domain.CustomRule, ttl time.Duration) error {
	return setRules(ctx, c, rules, ttl)
}

// IncrementCounter bumps the fixed-window counter for key and returns the
// new count. A closed window restarts at one.
func (c *LRUCache) IncrementCounter(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if ok && now.Before(w.expires) {
		w.count++
		c.windows[key] = w
		return w.count, nil
	}

	if !ok && len(c.windows) >= c.capacity {
		c.sweepWindows(now)
	}
	c.windows[key] = counterWindow{count: 1, expires: now.Add(window)}
	return 1, nil
}

func (c *LRUCache) Ping(context.Context) error {
	return nil
}

// Close empties the cache. It stays usable afterwards.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	c.reset()
	c.mu.Unlock()
	return nil
}

// Stats reports the number of stored entries and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recency.Len(), c.capacity
}

// live returns the element for key, dropping it if it has expired.
func (c *LRUCache) live(key string, now time.Time) *list.Element {
	el, ok := c.entries[key]
	if !ok {
		return nil
	}
	if now.After(el.Value.(*lruEntry).expires) {
		c.drop(el)
		return nil
	}
	return el
}

func (c *LRUCache) drop(el *list.Element) {
	if el == nil {
		return
	}
	c.recency.Remove(el)
	delete(c.entries, el.Value.(*lruEntry).key)
}

func (c *LRUCache) sweepWindows(now time.Time) {
	for k, w := range c.windows {
		if !now.Before(w.expires) {
			delete(c.windows, k)
		}
	}
}
