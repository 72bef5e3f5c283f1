package engine

import (
	"sync"
	"time"
)

// SuppressionCache enforces at-most-one alert per (pattern, subject,
// window). Keys carry the window bucket for calendar-aligned patterns; for
// rolling patterns the ttl alone bounds re-triggering.
type SuppressionCache struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewSuppressionCache() *SuppressionCache {
	return &SuppressionCache{items: make(map[string]time.Time)}
}

// Once reports whether key is firing for the first time within ttl, and
// marks it. Subsequent calls inside the ttl return false.
func (c *SuppressionCache) Once(key string, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.items[key]; ok {
		if now.Sub(ts) < ttl {
			return false
		}
	}
	c.items[key] = now
	if len(c.items) > 10000 {
		c.compact(now, ttl)
	}
	return true
}

func (c *SuppressionCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range c.items {
		if now.Sub(ts) > ttl {
			delete(c.items, k)
		}
	}
}

func (c *SuppressionCache) Reset() {
	c.mu.Lock()
	c.items = make(map[string]time.Time)
	c.mu.Unlock()
}
