package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryCounter struct {
	window int64
	count  int
}

// MemoryLimiter counts draws per key in process memory. Counters from
// finished windows are swept whenever a newer window is first seen.
type MemoryLimiter struct {
	mu        sync.Mutex
	counters  map[string]*memoryCounter
	newestWin int64
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{counters: make(map[string]*memoryCounter)}
}

// Allow counts one draw for key in the window containing now.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	index, reset := windowBounds(now, window)

	l.mu.Lock()
	defer l.mu.Unlock()
	if index > l.newestWin {
		l.newestWin = index
		for k, counter := range l.counters {
			if counter.window < index {
				delete(l.counters, k)
			}
		}
	}
	counter, ok := l.counters[key]
	if !ok || counter.window != index {
		counter = &memoryCounter{window: index}
		l.counters[key] = counter
	}
	if counter.count >= limit {
		return Result{Allowed: false, Reset: reset}, nil
	}
	counter.count++
	return Result{Allowed: true, Remaining: limit - counter.count, Reset: reset}, nil
}

// size reports how many counters are held.
func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}
