// Package contextcache keeps preloaded purchase contexts in memory until
// their TTL runs out.
package contextcache

import (
	"time"

	"github.com/patrickmn/go-cache"

	"autobuy/internal/domain/entity"
)

const cleanupInterval = 10 * time.Minute

// Cache is safe for concurrent use. A miss is never an error: callers race
// cold instead.
type Cache struct {
	store      *cache.Cache
	defaultTTL time.Duration
}

func New(defaultTTL time.Duration) *Cache {
	return &Cache{
		store:      cache.New(defaultTTL, cleanupInterval),
		defaultTTL: defaultTTL,
	}
}

func (c *Cache) Get(configurationID string) (*entity.PreloadedContext, bool) {
	v, ok := c.store.Get(configurationID)
	if !ok {
		return nil, false
	}

	preloaded, ok := v.(*entity.PreloadedContext)
	return preloaded, ok
}

// Put stores preloaded under configurationID. A non-positive ttl uses the
// cache default.
func (c *Cache) Put(configurationID string, preloaded *entity.PreloadedContext, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.store.Set(configurationID, preloaded, ttl)
}

func (c *Cache) Delete(configurationID string) {
	c.store.Delete(configurationID)
}

func (c *Cache) Len() int {
	return c.store.ItemCount()
}
