package ratelimit

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// breaker keeps draws off Redis for a cool-down after a failure.
type breaker struct {
	mu    sync.Mutex
	until time.Time
}

// open reports whether Redis should be skipped at now.
func (b *breaker) open(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.until.IsZero() {
		return false
	}
	if now.Before(b.until) {
		return true
	}
	b.until = time.Time{}
	return false
}

// trip starts a cool-down unless one is already running.
func (b *breaker) trip(err error, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.until.IsZero() && now.Before(b.until) {
		return
	}
	b.until = now.Add(redisBreakerDuration)
	log.WithError(err).WithField("retry_at", b.until.Format(time.RFC3339)).
		Warn("rate limit: redis unavailable, counting draws in memory")
}
