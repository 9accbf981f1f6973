// Package cache keeps serialized stack documents in Redis so reads that miss
// the in-memory registry can skip PostgreSQL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zonestack/server/internal/config"
	"github.com/zonestack/server/internal/zones"
)

const keyPrefix = "stack:"

// DefaultTTL applies when the configured TTL is not positive.
const DefaultTTL = 10 * time.Minute

// Observer receives lookup results: "hit", "miss" or "error".
type Observer interface {
	ObserveCache(result string)
}

// StackCache is a read-through cache of stack documents. A StackCache with a
// nil client is disabled: lookups miss and writes are dropped.
type StackCache struct {
	client   *redis.Client
	ttl      time.Duration
	observer Observer
}

// OpenRedis returns a client for addr, or nil when addr is empty.
func OpenRedis(cfg *config.RedisConfig) *redis.Client {
	addr := cfg.Addr()
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
}

// NewStackCache wraps client. client may be nil.
func NewStackCache(client *redis.Client, ttl time.Duration, observer Observer) *StackCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &StackCache{client: client, ttl: ttl, observer: observer}
}

// Enabled reports whether a Redis client is configured.
func (c *StackCache) Enabled() bool {
	return c != nil && c.client != nil
}

// Ping checks the Redis connection. A disabled cache always succeeds.
func (c *StackCache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Get returns the cached document for id. found is false on a miss.
func (c *StackCache) Get(ctx context.Context, id string) (doc *zones.Document, found bool, err error) {
	if !c.Enabled() {
		return nil, false, nil
	}

	data, err := c.client.Get(ctx, Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.observe("miss")
		return nil, false, nil
	}
	if err != nil {
		c.observe("error")
		return nil, false, fmt.Errorf("failed to read stack %s from cache: %w", id, err)
	}

	var d zones.Document
	if err := json.Unmarshal(data, &d); err != nil {
		// Drop entries written by an incompatible build.
		c.observe("error")
		log.Printf("[StackCache] Discarding unreadable entry for stack %s: %v", id, err)
		_ = c.client.Del(ctx, Key(id)).Err()
		return nil, false, nil
	}
	c.observe("hit")
	return &d, true, nil
}

// Put stores doc under its ID.
func (c *StackCache) Put(ctx context.Context, doc *zones.Document) error {
	if !c.Enabled() || doc == nil {
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode stack %s: %w", doc.ID, err)
	}
	if err := c.client.Set(ctx, Key(doc.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache stack %s: %w", doc.ID, err)
	}
	return nil
}

// Invalidate removes the entries for ids.
func (c *StackCache) Invalidate(ctx context.Context, ids ...string) error {
	if !c.Enabled() || len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = Key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached stacks: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (c *StackCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

// Key is the Redis key for a stack.
func Key(id string) string {
	return keyPrefix + id
}

func (c *StackCache) observe(result string) {
	if c.observer != nil {
		c.observer.ObserveCache(result)
	}
}
