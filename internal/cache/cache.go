package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores opaque JSON payloads with TTL-based expiration. Current
// conditions, forecasts, and geocoding results all share one cache layer;
// the service layer owns marshaling.
//
// Get returns fresh payloads only. GetStale also returns expired payloads
// whose age (since store time) is within maxAge, for upstream-failure
// fallback.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetStale(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// defaultRetention bounds how long expired entries are kept for stale reads.
const defaultRetention = 6 * time.Hour

// InMemoryCache implements Cache with a mutex-guarded map. Expired entries
// are retained until retention elapses so stale fallback can still serve them.
type InMemoryCache struct {
	mu        sync.Mutex
	data      map[string]entry
	retention time.Duration
}

type entry struct {
	value     []byte
	storedAt  time.Time
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache. retention bounds stale
// retention; zero uses the package default.
func NewInMemoryCache(retention time.Duration) *InMemoryCache {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &InMemoryCache{
		data:      make(map[string]entry),
		retention: retention,
	}
}

// Get returns the payload when present and not expired. Entries past the
// retention bound are removed on access.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	now := time.Now()
	if now.Sub(e.storedAt) > c.retention {
		delete(c.data, key)
		return nil, false, nil
	}
	if now.After(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// GetStale returns the payload when its age is within maxAge, expired or not.
func (c *InMemoryCache) GetStale(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if time.Since(e.storedAt) > maxAge {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores the payload with the given TTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.data[key] = entry{
		value:     value,
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}
	return nil
}
