package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		val, _ := smallCache.Get(ctx, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		val, _ = smallCache.Get(ctx, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := 100 * time.Millisecond

		count1, err := cache.IncrementCounter(ctx, "velocity:payer-1", window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		count2, _ := cache.IncrementCounter(ctx, "velocity:payer-1", window)
		if count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		other, _ := cache.IncrementCounter(ctx, "velocity:payer-2", window)
		if other != 1 {
			t.Errorf("expected independent counter, got %d", other)
		}

		time.Sleep(150 * time.Millisecond)

		count3, _ := cache.IncrementCounter(ctx, "velocity:payer-1", window)
		if count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("CounterSweep", func(t *testing.T) {
		small := NewLRUCache(2)
		_, _ = small.IncrementCounter(ctx, "a", time.Millisecond)
		_, _ = small.IncrementCounter(ctx, "b", time.Millisecond)
		time.Sleep(5 * time.Millisecond)

		_, _ = small.IncrementCounter(ctx, "c", time.Minute)

		small.mu.RLock()
		n := len(small.windows)
		small.mu.RUnlock()
		if n != 1 {
			t.Errorf("expected expired counters swept, got %d", n)
		}
	})

	t.Run("RulesCache", func(t *testing.T) {
		miss, err := cache.GetRules(ctx)
		if err != nil || miss != nil {
			t.Fatalf("expected miss, got %v %v", miss, err)
		}

		rules := []*domain.CustomRule{{
			ID: "rule-001", Name: "Large amount", Type: domain.RuleTypeThreshold,
			Field: "amount", Operator: domain.OpGreater, Value: "5000",
			Score: 0.9, Active: true, Priority: 10,
		}}
		if err := cache.SetRules(ctx, rules, time.Minute); err != nil {
			t.Fatalf("SetRules failed: %v", err)
		}

		got, err := cache.GetRules(ctx)
		if err != nil {
			t.Fatalf("GetRules failed: %v", err)
		}
		if len(got) != 1 || got[0].Operator != domain.OpGreater || got[0].Score != 0.9 {
			t.Errorf("unexpected cached rules: %+v", got)
		}
	})

	t.Run("EmptyRuleSetIsAHit", func(t *testing.T) {
		c := NewLRUCache(10)
		_ = c.SetRules(ctx, nil, time.Minute)

		got, err := c.GetRules(ctx)
		if err != nil {
			t.Fatalf("GetRules failed: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil rule set, got %#v", got)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		val, _ := testCache.Get(ctx, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()

	t.Run("GetMiss", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		c := NewRedisCacheFromClient(client)

		mock.ExpectGet("kestrel:missing").RedisNil()

		val, err := c.Get(ctx, "missing")
		if err != nil || val != nil {
			t.Errorf("expected nil, nil on miss, got %v %v", val, err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("GetError", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		c := NewRedisCacheFromClient(client)

		down := errors.New("connection refused")
		mock.ExpectGet("kestrel:k").SetErr(down)

		if _, err := c.Get(ctx, "k"); !errors.Is(err, down) {
			t.Errorf("expected wrapped redis error, got %v", err)
		}
	})

	t.Run("RulesRoundTrip", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		c := NewRedisCacheFromClient(client)

		rules := []*domain.CustomRule{{ID: "r1", Name: "n", Field: "channel", Operator: domain.OpEqual, Value: "web", Score: 0.2, Active: true}}
		data, _ := json.Marshal(rules)

		mock.ExpectSet("kestrel:rules:active", data, time.Minute).SetVal("OK")
		mock.ExpectGet("kestrel:rules:active").SetVal(string(data))

		if err := c.SetRules(ctx, rules, time.Minute); err != nil {
			t.Fatalf("SetRules failed: %v", err)
		}
		got, err := c.GetRules(ctx)
		if err != nil {
			t.Fatalf("GetRules failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "r1" {
			t.Errorf("unexpected rules: %+v", got)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		c := NewRedisCacheFromClient(client)

		mock.ExpectDel("kestrel:k").SetVal(1)

		if err := c.Delete(ctx, "k"); err != nil {
			t.Errorf("Delete failed: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	c := newTwoPhase(NewLRUCache(10), NewRedisCacheFromClient(client), time.Minute)

	// L1 miss, L2 hit: L1 is populated, so the second read never reaches Redis.
	mock.ExpectGet("kestrel:k").SetVal("v")

	for i := 0; i < 2; i++ {
		val, err := c.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "v" {
			t.Errorf("expected 'v', got %q", val)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_, ok := cache.(*LRUCache)
		if !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
