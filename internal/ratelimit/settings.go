package ratelimit

import (
	"strings"
	"time"

	"github.com/router-for-me/GeminiDrawer/internal/config"
	internalsettings "github.com/router-for-me/GeminiDrawer/internal/settings"
)

// SettingsConfig captures the effective draw rate limit settings.
type SettingsConfig struct {
	Limit         int
	Window        time.Duration
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// NewSettingsProvider returns a provider that overlays DB settings on the
// YAML defaults each time it is called.
func NewSettingsProvider(defaults config.RateLimitConfig) SettingsProvider {
	return func() SettingsConfig {
		return LoadSettingsConfig(defaults)
	}
}

// LoadSettingsConfig resolves rate limit settings from the snapshot and defaults.
func LoadSettingsConfig(defaults config.RateLimitConfig) SettingsConfig {
	windowSeconds := int(defaults.Window / time.Second)
	cfg := SettingsConfig{
		Limit:         internalsettings.Int(internalsettings.DrawRateLimitKey, defaults.Limit),
		RedisEnabled:  internalsettings.Bool(internalsettings.DrawRateLimitRedisEnabledKey, defaults.Redis.Enabled),
		RedisAddr:     internalsettings.String(internalsettings.DrawRateLimitRedisAddrKey, defaults.Redis.Addr),
		RedisPassword: internalsettings.String(internalsettings.DrawRateLimitRedisPasswordKey, defaults.Redis.Password),
		RedisDB:       internalsettings.Int(internalsettings.DrawRateLimitRedisDBKey, defaults.Redis.DB),
		RedisPrefix:   internalsettings.String(internalsettings.DrawRateLimitRedisPrefixKey, defaults.Redis.Prefix),
	}
	windowSeconds = internalsettings.Int(internalsettings.DrawRateWindowSecondsKey, windowSeconds)
	cfg.Window = time.Duration(windowSeconds) * time.Second
	if cfg.Window <= 0 {
		cfg.Window = config.DefaultRateLimitWindow
	}
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	cfg.RedisPassword = strings.TrimSpace(cfg.RedisPassword)
	cfg.RedisPrefix = strings.TrimSpace(cfg.RedisPrefix)
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = config.DefaultRedisPrefix
	}
	if cfg.RedisDB < 0 {
		cfg.RedisDB = 0
	}
	if cfg.Limit < 0 {
		cfg.Limit = 0
	}
	return cfg
}
