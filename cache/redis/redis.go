// Package redis provides a Redis-backed cache.Cache for deployments that
// want validator lookups shared across gateway instances. Expiry is enforced
// both by the stored metadata and by the Redis key TTL.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcpgate/mcpgate/cache"
)

const defaultKeyPrefix = "mcpgate:authcache:"

// Config contains configuration options for the Redis cache.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix namespaces the gateway's keys. Default: "mcpgate:authcache:".
	KeyPrefix string
}

// Cache implements cache.Cache on Redis.
type Cache struct {
	client    *redis.Client
	keyPrefix string
}

// storedItem is the JSON envelope persisted in Redis.
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a Redis-backed cache.
func New(config Config) (*Cache, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}
	return &Cache{client: config.Client, keyPrefix: config.KeyPrefix}, nil
}

func (c *Cache) Get(ctx context.Context, key string) (*cache.Item, error) {
	result := c.client.Get(ctx, c.keyPrefix+key)
	if err := result.Err(); err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	var stored storedItem
	if err := json.Unmarshal([]byte(result.Val()), &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}

	item := &cache.Item{Data: stored.Data, CreatedAt: stored.CreatedAt, ExpiresAt: stored.ExpiresAt}
	if item.Expired() {
		c.client.Del(ctx, c.keyPrefix+key)
		return nil, nil
	}
	return item, nil
}

func (c *Cache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now()
	stored := storedItem{Data: data, CreatedAt: now}
	var redisTTL time.Duration
	if ttl > 0 {
		exp := now.Add(ttl)
		stored.ExpiresAt = &exp
		redisTTL = ttl
	}

	b, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, b, redisTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

var _ cache.Cache = (*Cache)(nil)
