package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/satellite-change-detector/internal/core"
)

// MemoryCache is an in-memory implementation of the CacheRepository interface
// with TTL expiry and oldest-first eviction at capacity.
type MemoryCache struct {
	entries     map[string]*core.CacheEntry
	mu          sync.RWMutex
	logger      *zap.Logger
	maxEntries  int
	cleanupFreq time.Duration
	stopCh      chan struct{}
	now         func() time.Time
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(logger *zap.Logger, maxEntries int, cleanupFreq time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	cache := &MemoryCache{
		entries:     make(map[string]*core.CacheEntry),
		logger:      logger,
		maxEntries:  maxEntries,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}

	// Start background cleanup
	go cache.startCleanupTask()

	return cache
}

// Get retrieves a cached entry by fingerprint. Expired entries are treated
// as absent.
func (c *MemoryCache) Get(ctx context.Context, fingerprint string) (*core.CacheEntry, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[fingerprint]
	if !ok {
		return nil, core.ErrNotFound
	}
	if c.now().After(entry.ExpiresAt) {
		return nil, core.ErrExpired
	}
	return entry, nil
}

// Set stores a cache entry, evicting the oldest entries when at capacity.
func (c *MemoryCache) Set(ctx context.Context, entry *core.CacheEntry) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[entry.Fingerprint]; !exists {
		for len(c.entries) >= c.maxEntries {
			c.evictOldestLocked()
		}
	}
	c.entries[entry.Fingerprint] = entry
	return nil
}

// Delete removes a cache entry
func (c *MemoryCache) Delete(ctx context.Context, fingerprint string) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, fingerprint)
	return nil
}

// Cleanup removes expired entries
func (c *MemoryCache) Cleanup(ctx context.Context) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expiredCount := 0
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			expiredCount++
		}
	}

	c.logger.Debug("Cleaned up expired cache entries", zap.Int("expired_count", expiredCount))
	return nil
}

// evictOldestLocked drops the entry with the oldest insertion time. Caller
// must hold the write lock.
func (c *MemoryCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.StoredAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.StoredAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.logger.Debug("Evicted oldest cache entry", zap.String("fingerprint", oldestKey))
	}
}

// startCleanupTask starts a background task to clean up expired entries
func (c *MemoryCache) startCleanupTask() {
	if c.cleanupFreq <= 0 {
		return
	}
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Cleanup(context.Background()); err != nil {
				c.logger.Error("Failed to clean up cache", zap.Error(err))
			}
		case <-c.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup task
func (c *MemoryCache) Stop() {
	close(c.stopCh)
}
