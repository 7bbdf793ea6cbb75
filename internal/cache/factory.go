package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"connsync/internal/config"
	"connsync/internal/connectors"
)

// DefaultTTL applies when the config leaves ttl empty.
const DefaultTTL = time.Hour

// NewCacheFromConfig creates a Cache based on the cache config type. The Redis
// password is read from CONNSYNC_REDIS_PASSWORD.
func NewCacheFromConfig(ctx context.Context, cfg config.CacheConfig, clock connectors.Clock) (connectors.Cache, time.Duration, error) {
	ttl := DefaultTTL
	if cfg.TTL != "" {
		d, err := time.ParseDuration(cfg.TTL)
		if err != nil {
			return nil, 0, fmt.Errorf("parsing cache ttl: %w", err)
		}
		ttl = d
	}

	switch cfg.Type {
	case "", "memory":
		return NewMemoryCache(clock), ttl, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, 0, fmt.Errorf("redis cache requires redis_addr to be set")
		}
		c, err := NewRedisCache(ctx, cfg.RedisAddr, os.Getenv("CONNSYNC_REDIS_PASSWORD"))
		if err != nil {
			return nil, 0, err
		}
		return c, ttl, nil
	default:
		return nil, 0, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
