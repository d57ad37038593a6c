// Package cache stores query results keyed by logical query key and exposes
// the invalidation surface the real-time sync manager drives. Invalidation is
// delete-by-key, so reapplying it for a redelivered change event observably
// equals applying it once.
package cache

import (
	"context"
	"time"
)

// Invalidator drops cached entries for the given query keys. Safe to call
// more than once for the same logical change.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Store is a query-result cache. Implementations: MemoryStore (per-process)
// and RedisStore (shared across processes).
type Store interface {
	Invalidator

	// Get returns the cached value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// InvalidatorFunc adapts a function to the Invalidator interface.
type InvalidatorFunc func(ctx context.Context, keys ...string) error

func (f InvalidatorFunc) Invalidate(ctx context.Context, keys ...string) error {
	return f(ctx, keys...)
}
