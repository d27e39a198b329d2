// Package ratelimit is a fixed-window request limiter keyed by caller
// identity (typically client IP). Redis backs the counters when
// configured so limits hold across instances; otherwise an in-memory
// bucket map serves, and any Redis failure falls back to it.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type bucket struct {
	count   int
	resetAt time.Time
}

type Limiter struct {
	redis  *redis.Client
	prefix string
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[string]bucket
}

// New builds a limiter. client may be nil for memory-only operation.
func New(client *redis.Client, prefix string, logger *slog.Logger) *Limiter {
	return &Limiter{
		redis:   client,
		prefix:  prefix,
		logger:  logger,
		buckets: make(map[string]bucket),
	}
}

// Allow reports whether the keyed caller is within max requests for the
// current window.
func (l *Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) bool {
	if l.redis != nil {
		if ok, err := l.allowRedis(ctx, key, window, max); err == nil {
			return ok
		} else {
			l.logger.Warn("rate limit redis failure, using memory fallback", "key", key, "error", err)
		}
	}
	return l.allowMemory(key, window, max)
}

func (l *Limiter) allowRedis(ctx context.Context, key string, window time.Duration, max int) (bool, error) {
	redisKey := l.prefix + ":ratelimit:" + key
	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.redis.PExpire(ctx, redisKey, window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(max), nil
}

func (l *Limiter) allowMemory(key string, window time.Duration, max int) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		l.buckets[key] = bucket{count: 1, resetAt: now.Add(window)}
		l.pruneLocked(now)
		return max >= 1
	}
	b.count++
	l.buckets[key] = b
	return b.count <= max
}

// pruneLocked drops expired buckets so the map does not grow without
// bound under rotating client IPs.
func (l *Limiter) pruneLocked(now time.Time) {
	if len(l.buckets) < 1024 {
		return
	}
	for k, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, k)
		}
	}
}
