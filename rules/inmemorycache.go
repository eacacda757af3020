package rules

import (
	"sync"
	"time"
)

// InMemorySnapshotCache is a simple in-memory implementation of
// SnapshotCache. Thread-safe for concurrent access.
type InMemorySnapshotCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

type cacheEntry struct {
	rs       *RuleSet
	cachedAt time.Time
}

// NewInMemorySnapshotCache creates a new in-memory snapshot cache.
func NewInMemorySnapshotCache(config CacheConfig) *InMemorySnapshotCache {
	return &InMemorySnapshotCache{
		entries: make(map[string]cacheEntry),
		config:  config,
	}
}

// Get retrieves the cached snapshot for a version.
// Returns nil if there is no entry or the entry expired.
func (c *InMemorySnapshotCache) Get(version string) *RuleSet {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[version]
	if !ok {
		return nil
	}
	if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		return nil
	}
	return entry.rs
}

// Set stores a snapshot for a version. Snapshots are immutable by contract,
// so the pointer is stored as-is.
func (c *InMemorySnapshotCache) Set(version string, rs *RuleSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[version] = cacheEntry{rs: rs, cachedAt: time.Now()}
}

// Invalidate drops the entry for one version.
func (c *InMemorySnapshotCache) Invalidate(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, version)
}

// InvalidateAll drops every entry.
func (c *InMemorySnapshotCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
}
