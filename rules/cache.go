package rules

import "time"

// SnapshotCache caches rule-set snapshots per version, so readers and the
// evaluation path do not hit the backend on every request. This allows
// swapping between in-memory, Redis, or other caching implementations.
type SnapshotCache interface {
	// Get retrieves the cached snapshot for a version, or nil on a miss
	// or expired entry.
	Get(version string) *RuleSet

	// Set stores a snapshot for a version.
	Set(version string, rs *RuleSet)

	// Invalidate drops the cached snapshot for a version, forcing a
	// backend reload on the next Get.
	Invalidate(version string)

	// InvalidateAll drops every cached snapshot.
	InvalidateAll()
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached snapshots.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for snapshot caching.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // no TTL, invalidate on mutation or external file edit
	}
}
