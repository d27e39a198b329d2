// Package cache is a small get/set/invalidate cache with prefix
// invalidation. Redis backs it when configured; a TTL'd in-memory map
// serves otherwise and whenever Redis misbehaves. Invalidation is
// best-effort and never fails the mutating operation that triggered it.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type Cache struct {
	redis  *redis.Client
	prefix string
	logger *slog.Logger

	mu     sync.Mutex
	memory map[string]memoryEntry
}

// New builds a cache. client may be nil for memory-only operation.
func New(client *redis.Client, prefix string, logger *slog.Logger) *Cache {
	return &Cache{
		redis:  client,
		prefix: prefix,
		logger: logger,
		memory: make(map[string]memoryEntry),
	}
}

func (c *Cache) key(k string) string {
	return c.prefix + ":cache:" + k
}

// Get unmarshals the cached value into dst and reports whether it was
// present.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	k := c.key(key)
	if c.redis != nil {
		raw, err := c.redis.Get(ctx, k).Bytes()
		if err == nil {
			return json.Unmarshal(raw, dst) == nil
		}
		if err != redis.Nil {
			return c.getMemory(k, dst)
		}
		return false
	}
	return c.getMemory(k, dst)
}

func (c *Cache) Set(ctx context.Context, key string, ttl time.Duration, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	k := c.key(key)
	if c.redis != nil {
		if err := c.redis.Set(ctx, k, raw, ttl).Err(); err == nil {
			return
		}
	}
	c.mu.Lock()
	c.memory[k] = memoryEntry{value: raw, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// GetOrSet returns the cached value or computes, stores, and returns a
// fresh one.
func (c *Cache) GetOrSet(ctx context.Context, key string, ttl time.Duration, dst any, compute func() (any, error)) error {
	if c.Get(ctx, key, dst) {
		return nil
	}
	value, err := compute()
	if err != nil {
		return err
	}
	c.Set(ctx, key, ttl, value)
	// Round-trip through JSON so dst is filled the same way a cache hit
	// would fill it.
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (c *Cache) Invalidate(ctx context.Context, key string) {
	k := c.key(key)
	c.mu.Lock()
	delete(c.memory, k)
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, k).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", "key", key, "error", err)
	}
}

// InvalidatePrefix drops every key under the prefix. Failures are
// logged and swallowed.
func (c *Cache) InvalidatePrefix(ctx context.Context, keyPrefix string) {
	p := c.key(keyPrefix)

	c.mu.Lock()
	for k := range c.memory {
		if strings.HasPrefix(k, p) {
			delete(c.memory, k)
		}
	}
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	iter := c.redis.Scan(ctx, 0, p+"*", 250).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("cache prefix scan failed", "prefix", keyPrefix, "error", err)
		return
	}
	if len(keys) > 0 {
		if err := c.redis.Del(ctx, keys...).Err(); err != nil {
			c.logger.Warn("cache prefix invalidate failed", "prefix", keyPrefix, "error", err)
		}
	}
}

func (c *Cache) getMemory(k string, dst any) bool {
	c.mu.Lock()
	entry, ok := c.memory[k]
	if ok && time.Now().After(entry.expiresAt) {
		delete(c.memory, k)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	return json.Unmarshal(entry.value, dst) == nil
}
