// Package ratelimit implements a fixed-window request limiter on Redis.
package ratelimit

import (
	"context"
	"time"

	redisadapter "github.com/concerthall/reservations/internal/adapters/redis"
)

type Limiter struct {
	redis *redisadapter.Cache
}

func New(redis *redisadapter.Cache) *Limiter {
	return &Limiter{redis: redis}
}

// Allow counts the request against the key's current window and reports
// whether it stays under rate. A Redis failure denies the request.
func (l *Limiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	fullKey := "rl:" + key

	pipe := l.redis.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, period)

	if _, err := pipe.Exec(ctx); err != nil {
		return false
	}
	return incr.Val() <= int64(rate)
}
