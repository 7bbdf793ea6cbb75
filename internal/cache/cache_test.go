package cache

import (
	"context"
	"testing"
	"time"

	"connsync/internal/config"
	"connsync/internal/testutil"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	c := NewMemoryCache(clock)

	if _, ok, _ := c.Get(ctx, "parent:f1"); ok {
		t.Fatal("Get() on empty cache reported a hit")
	}

	c.Set(ctx, "parent:f1", "root", time.Minute)
	c.Set(ctx, "parent:f2", "f1", 0)

	v, ok, err := c.Get(ctx, "parent:f1")
	if err != nil || !ok || v != "root" {
		t.Errorf("Get() = %q, %v, %v", v, ok, err)
	}

	clock.Advance(time.Minute)
	if _, ok, _ := c.Get(ctx, "parent:f1"); ok {
		t.Error("entry did not expire")
	}
	if v, ok, _ := c.Get(ctx, "parent:f2"); !ok || v != "f1" {
		t.Errorf("entry without ttl = %q, %v", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestNewCacheFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("memory with default ttl", func(t *testing.T) {
		c, ttl, err := NewCacheFromConfig(ctx, config.CacheConfig{Type: "memory"}, nil)
		if err != nil {
			t.Fatalf("NewCacheFromConfig() error = %v", err)
		}
		if _, ok := c.(*MemoryCache); !ok {
			t.Errorf("cache = %T, want *MemoryCache", c)
		}
		if ttl != DefaultTTL {
			t.Errorf("ttl = %v, want %v", ttl, DefaultTTL)
		}
	})

	t.Run("custom ttl", func(t *testing.T) {
		_, ttl, err := NewCacheFromConfig(ctx, config.CacheConfig{TTL: "15m"}, nil)
		if err != nil || ttl != 15*time.Minute {
			t.Errorf("ttl = %v, %v", ttl, err)
		}
	})

	errorCases := []config.CacheConfig{
		{TTL: "soon"},
		{Type: "redis"},
		{Type: "memcached"},
	}
	for _, cfg := range errorCases {
		if _, _, err := NewCacheFromConfig(ctx, cfg, nil); err == nil {
			t.Errorf("NewCacheFromConfig(%+v) expected error", cfg)
		}
	}
}
