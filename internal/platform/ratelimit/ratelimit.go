// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package ratelimit enforces per-subject request ceilings.

Each caller gets a fixed-window counter keyed by subject and window size. The
primary implementation keeps the counters in Redis so limits hold across
replicas; a local token-bucket fallback covers deployments without Redis.

The limiter is the only mutable shared state in the request path besides the
result cache, so both implementations use atomic read-modify-write operations.
*/
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/taibuivan/mongrest/internal/platform/config"
	"github.com/taibuivan/mongrest/internal/platform/constants"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool
	// RetryAfter is the wait hint when the request was rejected.
	RetryAfter time.Duration
}

// Limiter decides whether a subject may issue another request under the
// given per-role ceiling.
type Limiter interface {
	Allow(ctx context.Context, subject string, limit config.RateLimit) (Decision, error)
}

// # Redis Fixed-Window Limiter

// RedisLimiter implements [Limiter] with INCR + EXPIRE fixed windows.
//
// The first increment of a window sets the TTL; rejections read the remaining
// TTL for the retry hint. INCR is atomic, so concurrent replicas share one
// counter without coordination.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow increments the subject's bucket for the current window.
func (limiter *RedisLimiter) Allow(ctx context.Context, subject string, limit config.RateLimit) (Decision, error) {

	// Window-aligned key: all requests inside the same window share a counter.
	windowStart := time.Now().Unix() / int64(limit.Window.Seconds())
	key := fmt.Sprintf("%s%s:%d", constants.RedisPrefixRateLimit, subject, windowStart)

	count, err := limiter.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: incr failed: %w", err)
	}

	// Only the request that created the key pays for the EXPIRE round trip.
	if count == 1 {
		if err := limiter.client.Expire(ctx, key, limit.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: expire failed: %w", err)
		}
	}

	if count > int64(limit.Requests) {
		ttl, err := limiter.client.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = limit.Window
		}
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}

	return Decision{Allowed: true}, nil
}

// # Local Fallback Limiter

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter implements [Limiter] with in-process token buckets, one per
// subject. It is the fallback when Redis is not configured; limits then hold
// per replica, not globally.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
}

// NewLocalLimiter creates an in-process limiter and starts a janitor that
// evicts idle buckets. The janitor stops when ctx is cancelled.
func NewLocalLimiter(ctx context.Context) *LocalLimiter {
	limiter := &LocalLimiter{buckets: make(map[string]*localBucket)}

	go func() {
		ticker := time.NewTicker(constants.RateLimitCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				limiter.mu.Lock()
				for subject, bucket := range limiter.buckets {
					if time.Since(bucket.lastSeen) > constants.RateLimitClientTTL {
						delete(limiter.buckets, subject)
					}
				}
				limiter.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	return limiter
}

// Allow consumes one token from the subject's bucket.
func (limiter *LocalLimiter) Allow(_ context.Context, subject string, limit config.RateLimit) (Decision, error) {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	bucket, found := limiter.buckets[subject]
	if !found {
		perSecond := float64(limit.Requests) / limit.Window.Seconds()
		bucket = &localBucket{
			limiter: rate.NewLimiter(rate.Limit(perSecond), limit.Requests),
		}
		limiter.buckets[subject] = bucket
	}

	bucket.lastSeen = time.Now()

	if !bucket.limiter.Allow() {
		return Decision{Allowed: false, RetryAfter: limit.Window}, nil
	}

	return Decision{Allowed: true}, nil
}
