// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"axonflow/sqlgate/shared/logger"
)

const redisKeyPrefix = "plancache:"

// RedisCache is the shared PlanCache backend for multi-instance deployments.
// Expiry is delegated to Redis key TTLs. Redis failures degrade to cache
// misses: the cache is best-effort and must never fail a request.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisCache connects to the given Redis URL and verifies reachability.
func NewRedisCache(url string, ttl time.Duration, log *logger.Logger) (*RedisCache, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl, log: log}, nil
}

// Get looks up a cached entry. Any Redis or decode failure is reported as a
// miss.
func (c *RedisCache) Get(ctx context.Context, fingerprint string) (*CacheEntry, bool) {
	data, err := c.client.Get(ctx, redisKeyPrefix+fingerprint).Bytes()
	if err != nil {
		if err != redis.Nil && c.log != nil {
			c.log.Warn("", "plan cache lookup failed, treating as miss", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil, false
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		if c.log != nil {
			c.log.Warn("", "plan cache entry is corrupt, treating as miss", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil, false
	}
	return &entry, true
}

// Put stores the entry with the cache TTL. Failures are logged only.
func (c *RedisCache) Put(ctx context.Context, fingerprint string, entry *CacheEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		if c.log != nil {
			c.log.Warn("", "failed to encode plan cache entry", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+fingerprint, data, c.ttl).Err(); err != nil && c.log != nil {
		c.log.Warn("", "failed to store plan cache entry", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
