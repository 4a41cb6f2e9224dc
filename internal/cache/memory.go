package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryRevocationCache is an in-process revocation cache for single-node
// deployments and tests
type MemoryRevocationCache struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewMemoryRevocationCache creates an in-memory revocation cache
func NewMemoryRevocationCache() *MemoryRevocationCache {
	return &MemoryRevocationCache{entries: make(map[string]time.Time)}
}

// MarkRevoked records a credential id as revoked until its expiry
func (c *MemoryRevocationCache) MarkRevoked(ctx context.Context, credentialID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[credentialID] = time.Now().Add(ttl)
	return nil
}

// IsRevoked reports whether a credential id is in the revocation set
func (c *MemoryRevocationCache) IsRevoked(ctx context.Context, credentialID string) (bool, error) {
	c.mu.RLock()
	expires, ok := c.entries[credentialID]
	c.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if time.Now().After(expires) {
		c.mu.Lock()
		delete(c.entries, credentialID)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}
