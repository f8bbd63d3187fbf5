package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLimiter_FixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewRedisLimiter(client, "drawer:rl")
	now := time.Date(2025, 1, 1, 0, 0, 10, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "u:1", 2, time.Minute, now)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("expected request %d to be allowed", i)
		}
	}
	res, err := limiter.Allow(ctx, "u:1", 2, time.Minute, now)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if res.Allowed {
		t.Fatalf("expected third request to be rejected")
	}
	if !res.Reset.Equal(time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)) {
		t.Fatalf("unexpected reset %v", res.Reset)
	}

	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one window key, got %v", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl <= 0 || ttl > 61*time.Second {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	next, err := limiter.Allow(ctx, "u:1", 2, time.Minute, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("allow next window: %v", err)
	}
	if !next.Allowed {
		t.Fatalf("expected next window to start fresh")
	}
}

func TestManager_UsesRedisWhenEnabled(t *testing.T) {
	mr := miniredis.RunT(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	manager := NewManager(func() SettingsConfig {
		return SettingsConfig{Limit: 1, Window: time.Minute, RedisEnabled: true, RedisAddr: mr.Addr(), RedisPrefix: "drawer:rl"}
	}, func() time.Time {
		return now
	}, nil)

	ctx := context.Background()
	if errCheck := manager.Check(ctx, "", "42"); errCheck != nil {
		t.Fatalf("first check: %v", errCheck)
	}
	if errCheck := manager.Check(ctx, "", "42"); errCheck == nil {
		t.Fatalf("expected redis limiter to block second request")
	}
	index, _ := windowBounds(now, time.Minute)
	if keys := mr.Keys(); len(keys) != 1 || keys[0] != "drawer:rl:g:42:"+strconv.FormatInt(index, 10) {
		t.Fatalf("unexpected redis keys %v", keys)
	}
}
