// Package memory is a process-local cache.Cache.
package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/vbonduro/checkin/internal/cache"
)

type Cache struct {
	c *gocache.Cache
}

var _ cache.Cache = (*Cache)(nil)

// New returns a cache whose expired entries are purged every cleanup interval.
func New(cleanup time.Duration) *Cache {
	return &Cache{c: gocache.New(gocache.NoExpiration, cleanup)}
}

func (c *Cache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.c.Get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}

func (c *Cache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.c.Set(key, value, ttl)
	return nil
}
