// Package cache implements connectors.Cache backends.
package cache

import (
	"context"
	"sync"
	"time"

	"connsync/internal/connectors"
)

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryCache is a process-local cache with per-entry expiry.
type MemoryCache struct {
	mu      sync.Mutex
	clock   connectors.Clock
	entries map[string]memoryEntry
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache(clock connectors.Clock) *MemoryCache {
	if clock == nil {
		clock = connectors.RealClock{}
	}
	return &MemoryCache{clock: clock, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && !c.clock.Now().Before(e.expires) {
		delete(c.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value; a zero ttl never expires.
func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = c.clock.Now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

var _ connectors.Cache = (*MemoryCache)(nil)
