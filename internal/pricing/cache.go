package pricing

import (
	"sync"
	"time"
)

// Cache is the in-memory tier of the rate fallback chain. Reads never block
// on anything but the mutex; staleness is reported, not enforced, so callers
// can serve stale data while a background refresh runs.
type Cache struct {
	mu        sync.RWMutex
	rates     map[string]int64
	fetchedAt time.Time
	ttl       time.Duration
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{ttl: ttl}
}

// Set replaces the cached rates wholesale.
func (c *Cache) Set(rates map[string]int64, at time.Time) {
	cp := make(map[string]int64, len(rates))
	for k, v := range rates {
		cp[k] = v
	}
	c.mu.Lock()
	c.rates = cp
	c.fetchedAt = at
	c.mu.Unlock()
}

// Snapshot returns a copy of the cached rates, the fetch time, and whether
// the entry is still fresh. An empty cache returns ok=false with a nil map.
func (c *Cache) Snapshot() (rates map[string]int64, fetchedAt time.Time, fresh bool, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.rates) == 0 {
		return nil, time.Time{}, false, false
	}
	cp := make(map[string]int64, len(c.rates))
	for k, v := range c.rates {
		cp[k] = v
	}
	return cp, c.fetchedAt, time.Since(c.fetchedAt) <= c.ttl, true
}
