// Package cache defines the best-effort key/value cache used for lookups that
// are expensive to repeat. A miss or an error never affects correctness.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key for ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}
