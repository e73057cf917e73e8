package governor

import (
	"sync"
	"time"
)

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Cache memoizes final tool output by operation identity. Expired entries are
// removed by the lookup that observes them; there is no sweeper and no size
// bound.
type Cache struct {
	TTL time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache returns an empty cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{TTL: ttl, entries: make(map[string]cacheEntry)}
}

// Get returns the value stored under id if it has not expired at now.
func (c *Cache) Get(id Identity, now time.Time) (string, bool) {
	if c == nil {
		return "", false
	}
	key := id.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !now.Before(entry.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.value, true
}

// Set stores value under id, replacing any previous value and expiry.
func (c *Cache) Set(id Identity, value string, now time.Time) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]cacheEntry)
	}
	c.entries[id.Key()] = cacheEntry{value: value, expiresAt: now.Add(c.TTL)}
}

// Len returns the number of stored entries, including expired ones not yet
// observed by a lookup.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
