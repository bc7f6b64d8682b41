package weather

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a fetched context stays fresh.
const DefaultCacheTTL = 30 * time.Minute

// Cache holds the latest external context per zone. Background jobs refresh
// it; chat handlers read it without blocking on the network.
type Cache struct {
	client *Client
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	context map[string]any
	fetched time.Time
}

// NewCache creates a Cache over the given client. ttl <= 0 falls back to the
// default.
func NewCache(client *Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		client:  client,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Refresh fetches fresh context for the zone and stores it. An all-sources
// failure stores an empty map so staleness is still bounded.
func (c *Cache) Refresh(ctx context.Context, zoneID string, lat, lon *float64) error {
	fetched := c.client.Context(ctx, lat, lon)

	c.mu.Lock()
	c.entries[zoneID] = cacheEntry{context: fetched, fetched: time.Now()}
	c.mu.Unlock()
	return nil
}

// Get returns the cached context for the zone, or nil when absent or stale.
func (c *Cache) Get(zoneID string) map[string]any {
	c.mu.RLock()
	e, ok := c.entries[zoneID]
	c.mu.RUnlock()

	if !ok || time.Since(e.fetched) > c.ttl {
		return nil
	}
	return e.context
}
