package stats

import (
	"testing"
	"time"
)

func TestCacheExpiresWithInjectedClock(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cache := NewCache(CacheConfig{
		Clock: func() time.Time { return now },
		TTL:   time.Minute,
	})

	cache.Put("leaderboard:10", []int{1, 2, 3})
	if _, ok := cache.Get("leaderboard:10"); !ok {
		t.Fatalf("expected fresh entry to be served")
	}

	now = now.Add(59 * time.Second)
	if _, ok := cache.Get("leaderboard:10"); !ok {
		t.Fatalf("expected entry to survive within ttl")
	}

	now = now.Add(2 * time.Second)
	if _, ok := cache.Get("leaderboard:10"); ok {
		t.Fatalf("expected entry to expire past ttl")
	}
}

func TestCacheEntriesAreIndependentByName(t *testing.T) {
	cache := NewCache(CacheConfig{TTL: time.Minute})
	cache.Put("a", 1)
	cache.Put("b", 2)

	cache.Invalidate("a")
	if _, ok := cache.Get("a"); ok {
		t.Fatalf("expected invalidated entry to be gone")
	}
	value, ok := cache.Get("b")
	if !ok || value.(int) != 2 {
		t.Fatalf("expected sibling entry untouched, got %v", value)
	}
}
