package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares draw counters between drawer instances through Redis.
// Each window gets its own key which expires shortly after the window closes.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter whose keys start with prefix.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: strings.Trim(strings.TrimSpace(prefix), ":")}
}

// Allow counts one draw for key in the window containing now.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if l == nil || l.client == nil || limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	index, reset := windowBounds(now, window)
	ttl := reset.Sub(now) + time.Second

	var incr *redis.IntCmd
	_, errExec := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		counterKey := l.counterKey(key, index)
		incr = pipe.Incr(ctx, counterKey)
		pipe.Expire(ctx, counterKey, ttl)
		return nil
	})
	if errExec != nil {
		return Result{}, fmt.Errorf("rate limit redis: %w", errExec)
	}

	used := int(incr.Val())
	if used > limit {
		return Result{Reset: reset}, nil
	}
	return Result{Allowed: true, Remaining: limit - used, Reset: reset}, nil
}

func (l *RedisLimiter) counterKey(key string, index int64) string {
	parts := make([]string, 0, 3)
	if l.prefix != "" {
		parts = append(parts, l.prefix)
	}
	parts = append(parts, key, strconv.FormatInt(index, 10))
	return strings.Join(parts, ":")
}
