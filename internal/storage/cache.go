package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-pulse/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const cachePrefix = "pulse:table:"

// ResultCache caches rendered results in Redis, keyed by a hash of the
// request that produced them.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache connects to redisURL. An empty URL returns nil, and a nil
// cache misses on every Get.
func NewResultCache(redisURL string, ttl time.Duration) (*ResultCache, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewResultCacheWithClient(redis.NewClient(opts), ttl), nil
}

// NewResultCacheWithClient wraps an existing client.
func NewResultCacheWithClient(client *redis.Client, ttl time.Duration) *ResultCache {
	return &ResultCache{client: client, ttl: ttl}
}

// Key hashes any JSON-encodable request into a cache key.
func Key(parts ...interface{}) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, p := range parts {
		if err := enc.Encode(p); err != nil {
			return "", fmt.Errorf("hashing cache key: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Get decodes the cached value into dst. It reports false on a miss.
func (c *ResultCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	if c == nil {
		return false, nil
	}
	data, err := c.client.Get(ctx, cachePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		logger.Warn("dropping unreadable cache entry", "key", key, "error", err)
		c.client.Del(ctx, cachePrefix+key)
		return false, nil
	}
	return true, nil
}

// Set stores v under key for the cache TTL.
func (c *ResultCache) Set(ctx context.Context, key string, v interface{}) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return c.client.Set(ctx, cachePrefix+key, data, c.ttl).Err()
}

// Invalidate drops every cached result. Called when grouping changes.
func (c *ResultCache) Invalidate(ctx context.Context) (int, error) {
	if c == nil {
		return 0, nil
	}
	var deleted int
	iter := c.client.Scan(ctx, 0, cachePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("cache delete: %w", err)
		}
		deleted++
	}
	return deleted, iter.Err()
}

// Close closes the client.
func (c *ResultCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
