// Package memory provides the in-process cache backend using
// github.com/hashicorp/golang-lru/v2. Expired entries are evicted lazily on
// lookup and swept periodically in the background.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mcpgate/mcpgate/cache"
)

const sweepInterval = 5 * time.Minute

// Cache implements cache.Cache in process memory.
type Cache struct {
	mu   sync.RWMutex
	lru  *lru.Cache[string, *cache.Item]
	stop chan struct{}
}

// New creates a memory cache bounded to maxItems entries.
func New(maxItems int) (*Cache, error) {
	l, err := lru.New[string, *cache.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	c := &Cache{lru: l, stop: make(chan struct{})}
	go c.sweep()
	return c, nil
}

func (c *Cache) Get(ctx context.Context, key string) (*cache.Item, error) {
	c.mu.RLock()
	item, ok := c.lru.Get(key)
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if item.Expired() {
		c.mu.Lock()
		c.lru.Remove(key)
		c.mu.Unlock()
		return nil, nil
	}
	return item, nil
}

func (c *Cache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now()
	item := &cache.Item{Data: append([]byte(nil), data...), CreatedAt: now}
	if ttl > 0 {
		exp := now.Add(ttl)
		item.ExpiresAt = &exp
	}
	c.mu.Lock()
	c.lru.Add(key, item)
	c.mu.Unlock()
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()
	return nil
}

func (c *Cache) Close() error {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
	return nil
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			for _, key := range c.lru.Keys() {
				if item, ok := c.lru.Peek(key); ok && item.Expired() {
					c.lru.Remove(key)
				}
			}
			c.mu.Unlock()
		}
	}
}

var _ cache.Cache = (*Cache)(nil)
