// Package cache defines the caching port. The orchestration core uses it
// for trend research results and peer-shared trends; entries are advisory
// and may be evicted at any time.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key-value cache with per-entry TTLs. A miss is
// reported through the bool, never through the error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
