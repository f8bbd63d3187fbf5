package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Limiter provides fixed-window rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}

// windowBounds returns the index of the window containing now and its end.
func windowBounds(now time.Time, window time.Duration) (int64, time.Time) {
	seconds := int64(window / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	index := now.Unix() / seconds
	return index, time.Unix((index+1)*seconds, 0).UTC()
}

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)
