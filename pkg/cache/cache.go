// Package cache 提供带 TTL 与前缀失效的内存缓存
// Package cache provides an in-memory TTL cache with prefix invalidation
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Invalidator removes every entry whose key starts with prefix
type Invalidator interface {
	InvalidateByPrefix(prefix string) int
}

type item struct {
	value     any
	expiresAt time.Time
	// generation at store time; a prefix invalidation bumps it so in-flight loads never repopulate stale data
	gen uint64
}

// Cache TTL cache, safe for concurrent use
type Cache struct {
	mu    sync.RWMutex
	items map[string]item
	ttl   time.Duration
	gen   uint64
	sf    singleflight.Group
	now   func() time.Time
}

// New creates a cache; ttl <= 0 falls back to 5 minutes
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		items: make(map[string]item),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns a live entry
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || c.now().After(it.expiresAt) {
		return nil, false
	}
	return it.value, true
}

// Set stores value under key with the default TTL
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	c.items[key] = item{value: value, expiresAt: c.now().Add(c.ttl), gen: c.gen}
	c.mu.Unlock()
}

// GetOrLoad returns the cached value or runs load once for concurrent callers of the same key
// GetOrLoad 命中则直接返回，否则合并并发请求只加载一次
func (c *Cache) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	c.mu.RLock()
	startGen := c.gen
	c.mu.RUnlock()

	v, err, _ := c.sf.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == startGen {
			c.items[key] = item{value: value, expiresAt: c.now().Add(c.ttl), gen: c.gen}
		}
		c.mu.Unlock()
		return value, nil
	})
	return v, err
}

// Delete removes a single key
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// InvalidateByPrefix drops all keys starting with prefix and returns how many were removed
// InvalidateByPrefix 删除所有以 prefix 开头的缓存项
func (c *Cache) InvalidateByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	n := 0
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Len number of stored entries, expired ones included until purged
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Purge drops expired entries
func (c *Cache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, it := range c.items {
		if now.After(it.expiresAt) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

var _ Invalidator = (*Cache)(nil)
