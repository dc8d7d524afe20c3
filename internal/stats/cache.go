package stats

import (
	"sync"
	"time"
)

// Cache is a named-entry TTL cache with an injected clock. Aggregates are
// cheap to recompute, so expiry simply drops the entry and the next reader
// recomputes; there is no background eviction.
type Cache struct {
	mu      sync.RWMutex
	clock   func() time.Time
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// CacheConfig describes cache behavior; Clock defaults to time.Now.
type CacheConfig struct {
	Clock func() time.Time
	TTL   time.Duration
}

// NewCache constructs an empty cache.
func NewCache(cfg CacheConfig) *Cache {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		clock:   clock,
		ttl:     cfg.TTL,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the live value stored under name, if any.
func (c *Cache) Get(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[name]
	if !ok || c.clock().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// Put stores value under name for the configured TTL.
func (c *Cache) Put(name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = cacheEntry{value: value, expiresAt: c.clock().Add(c.ttl)}
}

// Invalidate drops the entry stored under name.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}
