package trips

import (
	"context"
	"sync"
)

// MemoryCache is a process-local LiveCache used when Redis is not configured.
type MemoryCache struct {
	mu    sync.RWMutex
	trips map[string]map[string]string
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{trips: map[string]map[string]string{}}
}

func (c *MemoryCache) CacheTrip(_ context.Context, tripID string, data map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.trips[tripID]
	if !ok {
		h = map[string]string{}
		c.trips[tripID] = h
	}
	for k, v := range data {
		h[k] = v
	}
	return nil
}

func (c *MemoryCache) GetCachedTrip(_ context.Context, tripID string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := map[string]string{}
	for k, v := range c.trips[tripID] {
		out[k] = v
	}
	return out, nil
}

func (c *MemoryCache) DropTrip(_ context.Context, tripID string) error {
	c.mu.Lock()
	delete(c.trips, tripID)
	c.mu.Unlock()
	return nil
}
