package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisPingTimeout = 2 * time.Second

var errMissingRedisAddr = errors.New("rate limit redis: missing address")

// SettingsProvider supplies the settings in effect for the next draw.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

// redisTarget identifies one Redis connection; a settings change that
// alters any field reconnects.
type redisTarget struct {
	addr     string
	password string
	db       int
	prefix   string
}

func targetOf(cfg SettingsConfig) redisTarget {
	return redisTarget{addr: cfg.RedisAddr, password: cfg.RedisPassword, db: cfg.RedisDB, prefix: cfg.RedisPrefix}
}

// Manager enforces the per-user draw limit, preferring Redis so several
// drawer instances share counters, and falling back to memory.
type Manager struct {
	provider  SettingsProvider
	nowFn     func() time.Time
	memory    *MemoryLimiter
	newClient RedisClientFactory
	breaker   breaker

	mu     sync.Mutex
	redis  *RedisLimiter
	target redisTarget
}

// NewManager constructs a Manager. Nil dependencies get defaults.
func NewManager(provider SettingsProvider, nowFn func() time.Time, newClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = func() SettingsConfig { return SettingsConfig{} }
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newClient == nil {
		newClient = redis.NewClient
	}
	return &Manager{provider: provider, nowFn: nowFn, memory: NewMemoryLimiter(), newClient: newClient}
}

// Check counts one draw request for the user (or group) and returns a
// *LimitError when the current window is exhausted. Backend failures are
// logged and allow the request.
func (m *Manager) Check(ctx context.Context, userID, groupID string) error {
	if m == nil {
		return nil
	}
	key := KeyFor(userID, groupID)
	if key == "" {
		return nil
	}
	result, errAllow := m.Allow(ctx, key)
	if errAllow != nil {
		log.WithError(errAllow).Warn("rate limit: check failed")
		return nil
	}
	if !result.Allowed {
		return newLimitError(result.Reset.Sub(m.nowFn()))
	}
	return nil
}

// Allow counts one draw for key on the best available backend.
func (m *Manager) Allow(ctx context.Context, key string) (Result, error) {
	if m == nil || key == "" {
		return Result{Allowed: true}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := m.nowFn()
	cfg := m.provider()
	if cfg.Limit <= 0 {
		return Result{Allowed: true}, nil
	}
	if cfg.RedisEnabled && !m.breaker.open(now) {
		result, errRedis := m.allowRedis(ctx, key, cfg, now)
		if errRedis == nil {
			return result, nil
		}
		m.breaker.trip(errRedis, now)
	}
	return m.memory.Allow(ctx, key, cfg.Limit, cfg.Window, now)
}

func (m *Manager) allowRedis(ctx context.Context, key string, cfg SettingsConfig, now time.Time) (Result, error) {
	limiter, errConnect := m.redisFor(ctx, cfg)
	if errConnect != nil {
		return Result{}, errConnect
	}
	return limiter.Allow(ctx, key, cfg.Limit, cfg.Window, now)
}

// redisFor returns the limiter for cfg's Redis target, reconnecting when
// the target changed since the last draw.
func (m *Manager) redisFor(ctx context.Context, cfg SettingsConfig) (*RedisLimiter, error) {
	target := targetOf(cfg)
	if target.addr == "" {
		return nil, errMissingRedisAddr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis != nil && m.target == target {
		return m.redis, nil
	}
	if m.redis != nil {
		if errClose := m.redis.client.Close(); errClose != nil {
			log.WithError(errClose).Warn("rate limit: close previous redis client failed")
		}
		m.redis = nil
	}

	client := m.newClient(&redis.Options{Addr: target.addr, Password: target.password, DB: target.db})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	log.WithFields(log.Fields{"addr": target.addr, "db": target.db}).Info("rate limit: using redis backend")
	m.redis = NewRedisLimiter(client, target.prefix)
	m.target = target
	return m.redis, nil
}
