package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// rulesKey holds the JSON-encoded active rule set.
const rulesKey = "rules:active"

// New creates a new cache based on configuration.
// "memory" returns an LRU cache; "redis" returns Redis, fronted by an LRU
// when two-phase caching is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// getter is the raw byte lookup shared by every implementation.
type getter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type setter interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func getRules(ctx context.Context, c getter) ([]*domain.CustomRule, error) {
	data, err := c.Get(ctx, rulesKey)
	if err != nil || data == nil {
		return nil, err
	}

	var rules []*domain.CustomRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode cached rules: %w", err)
	}
	return rules, nil
}

func setRules(ctx context.Context, c setter, rules []*domain.CustomRule, ttl time.Duration) error {
	if rules == nil {
		rules = []*domain.CustomRule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}
	return c.Set(ctx, rulesKey, data, ttl)
}
