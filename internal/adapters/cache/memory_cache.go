// Package cache provides the persistent sender-identity cache behind
// core.SenderCacheRepository, with memory, SQLite, and MySQL backends.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/core"
)

// MemoryCache is the in-memory backend. Entries carry their write time and
// expiry is enforced lazily by the service on read, so this backend stores
// and returns entries verbatim.
type MemoryCache struct {
	entries map[string]*core.CacheEntry
	version string
	mu      sync.RWMutex
	logger  *zap.Logger

	// now is swappable so TTL behavior is testable.
	now func() time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(logger *zap.Logger) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*core.CacheEntry),
		logger:  logger,
		now:     time.Now,
	}
}

// Get retrieves the entry for an address.
func (c *MemoryCache) Get(ctx context.Context, address string) (*core.CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[address]
	return entry, ok
}

// Set stores an entry for an address.
func (c *MemoryCache) Set(ctx context.Context, address string, entry *core.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[address] = entry
	return nil
}

// Delete removes a single entry.
func (c *MemoryCache) Delete(ctx context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, address)
	return nil
}

// Clear removes every entry.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*core.CacheEntry)
	c.logger.Debug("Cleared sender cache", zap.Int("entries", n))
	return nil
}

// Cleanup removes entries older than maxAge.
func (c *MemoryCache) Cleanup(ctx context.Context, maxAge time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-maxAge)
	expired := 0
	for key, entry := range c.entries {
		if entry.Timestamp.Before(cutoff) {
			delete(c.entries, key)
			expired++
		}
	}
	c.logger.Debug("Cleaned up expired cache entries", zap.Int("expired_count", expired))
	return nil
}

// Version returns the stored version marker.
func (c *MemoryCache) Version(ctx context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version, nil
}

// SetVersion records the version marker.
func (c *MemoryCache) SetVersion(ctx context.Context, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = version
	return nil
}
