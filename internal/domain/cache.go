package domain

import (
	"context"
	"time"
)

// Cache holds the active rule set and the payer velocity counters.
// Get reports a miss as nil, nil.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// GetRules returns nil on a miss and an empty slice for a cached empty
	// rule set.
	GetRules(ctx context.Context) ([]*CustomRule, error)
	SetRules(ctx context.Context, rules []*CustomRule, ttl time.Duration) error

	// IncrementCounter adds one to key's fixed window and returns the new
	// count. The window starts on the first increment.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	Type string // "memory" or "redis"

	LocalMaxSize int
	LocalTTL     time.Duration // L1 lifetime in two-phase mode

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase fronts Redis with the local LRU.
	EnableTwoPhase bool

	// RulesTTL bounds how stale the cached active rule set may be.
	RulesTTL time.Duration
}
