// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package cache provides the pluggable query result cache.

Read-only query results (find/findOne) are stored under a deterministic key
derived from the collection and the canonical query string. Writes to a
collection invalidate its whole keyspace, best effort: a failed invalidation
only shortens cache accuracy, never correctness-critical state.
*/
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/mongrest/internal/platform/constants"
)

// ResultCache stores serialized query results keyed by collection + query.
type ResultCache interface {
	// Get returns the cached payload, or ok=false on a miss.
	Get(ctx context.Context, collection, key string) (payload []byte, ok bool)

	// Set stores a payload with the given TTL.
	Set(ctx context.Context, collection, key string, payload []byte, ttl time.Duration)

	// Invalidate drops every cached result for a collection.
	Invalidate(ctx context.Context, collection string)
}

// Key derives the deterministic cache key for a canonical query string.
func Key(canonicalQuery string) string {
	sum := sha256.Sum256([]byte(canonicalQuery))
	return hex.EncodeToString(sum[:16])
}

// # Redis Implementation

// RedisCache implements [ResultCache] on Redis. Each collection gets its own
// key prefix so invalidation can SCAN-and-delete one collection at a time.
type RedisCache struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisCache creates a Redis-backed result cache.
func NewRedisCache(client *redis.Client, log *slog.Logger) *RedisCache {
	return &RedisCache{client: client, log: log}
}

func (cache *RedisCache) redisKey(collection, key string) string {
	return fmt.Sprintf("%s%s:%s", constants.RedisPrefixResultCache, collection, key)
}

// Get returns the cached payload for the key, or ok=false on a miss.
func (cache *RedisCache) Get(ctx context.Context, collection, key string) ([]byte, bool) {
	payload, err := cache.client.Get(ctx, cache.redisKey(collection, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			cache.log.Warn("result_cache_get_failed", slog.Any("error", err))
		}
		return nil, false
	}
	return payload, true
}

// Set stores the payload with a TTL. Failures are logged, never surfaced.
func (cache *RedisCache) Set(ctx context.Context, collection, key string, payload []byte, ttl time.Duration) {
	if err := cache.client.Set(ctx, cache.redisKey(collection, key), payload, ttl).Err(); err != nil {
		cache.log.Warn("result_cache_set_failed", slog.Any("error", err))
	}
}

// Invalidate deletes every cached entry for the collection, best effort.
func (cache *RedisCache) Invalidate(ctx context.Context, collection string) {
	pattern := fmt.Sprintf("%s%s:*", constants.RedisPrefixResultCache, collection)

	iter := cache.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := cache.client.Del(ctx, iter.Val()).Err(); err != nil {
			cache.log.Warn("result_cache_invalidate_failed", slog.Any("error", err))
			return
		}
	}
	if err := iter.Err(); err != nil {
		cache.log.Warn("result_cache_scan_failed", slog.Any("error", err))
	}
}

// # No-op Implementation

// Noop implements [ResultCache] for deployments without Redis.
type Noop struct{}

func (Noop) Get(context.Context, string, string) ([]byte, bool)           { return nil, false }
func (Noop) Set(context.Context, string, string, []byte, time.Duration)   {}
func (Noop) Invalidate(context.Context, string)                           {}
