package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvJWTExpiry    = "JWT_EXPIRY"
	EnvProxyURL     = "PROXY_URL"
	EnvRelayAPIKey  = "RELAY_API_KEY"
)

// Defaults applied when the config file omits a value.
const (
	DefaultGoogleURL       = "https://generativelanguage.googleapis.com/v1beta/models/gemini-3-pro-image:generateContent"
	DefaultRelayModel      = "gemini-3-pro-image-preview"
	DefaultModel           = "gemini-pro-vision"
	DefaultDatabaseDSN     = "file:drawer.db"
	DefaultRequestTimeout  = 120 * time.Second
	DefaultStreamTimeout   = 180 * time.Second
	DefaultVideoTimeout    = 300 * time.Second
	DefaultAttemptDelay    = time.Second
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxPolls        = 120
	DefaultRateLimitWindow = time.Minute
	DefaultRedisPrefix     = "drawer:rl"
	DefaultSelfieAction    = "looking at viewer"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// AdminConfig holds the credentials of the admin API account.
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password-hash"`
	TOTPSecret   string `yaml:"totp-secret"`
}

// APIConfig guards the draw API.
type APIConfig struct {
	Token string `yaml:"token"`
}

// GoogleConfig configures the official Gemini endpoint used by google keys.
type GoogleConfig struct {
	Enabled *bool  `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// RelayConfig configures the free OpenAI-compatible relay tried first.
type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Key     string `yaml:"key"`
	Model   string `yaml:"model"`
}

// ProxyConfig configures the outbound HTTP proxy.
type ProxyConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// TimeoutConfig bounds outbound vendor calls.
type TimeoutConfig struct {
	Request time.Duration `yaml:"request"`
	Stream  time.Duration `yaml:"stream"`
	Video   time.Duration `yaml:"video"`
}

// VideoConfig controls asynchronous video task polling.
type VideoConfig struct {
	PollInterval time.Duration `yaml:"poll-interval"`
	MaxPolls     int           `yaml:"max-polls"`
}

// OneBotConfig configures result delivery through a OneBot HTTP API.
type OneBotConfig struct {
	URL         string `yaml:"url"`
	AccessToken string `yaml:"access-token"`
	AvatarURL   string `yaml:"avatar-url"`
}

// SelfieConfig configures the persona selfie draw. A relative reference
// image path is resolved against the config file's directory.
type SelfieConfig struct {
	Enabled        bool     `yaml:"enabled"`
	ReferenceImage string   `yaml:"reference-image"`
	BasePrompt     string   `yaml:"base-prompt"`
	RandomActions  []string `yaml:"random-actions"`
}

// RedisConfig configures the Redis backend of the draw rate limiter.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RateLimitConfig configures per-user draw rate limiting.
type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
	Redis  RedisConfig   `yaml:"redis"`
}

// Config is the full drawer configuration file.
type Config struct {
	DatabaseDSN string `yaml:"database-dsn"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Port int `yaml:"port"`

	JWT    JWTConfig   `yaml:"jwt"`
	Admin  AdminConfig `yaml:"admin"`
	Admins []string    `yaml:"admins"`
	API    APIConfig   `yaml:"api"`

	Google       GoogleConfig  `yaml:"google"`
	Relay        RelayConfig   `yaml:"relay"`
	DefaultModel string        `yaml:"default-model"`
	Proxy        ProxyConfig   `yaml:"proxy"`
	Timeouts     TimeoutConfig `yaml:"timeouts"`
	AttemptDelay time.Duration `yaml:"attempt-delay"`
	Video        VideoConfig   `yaml:"video"`

	OneBot    OneBotConfig    `yaml:"onebot"`
	RateLimit RateLimitConfig `yaml:"rate-limit"`
	Selfie    SelfieConfig    `yaml:"selfie"`

	LogLevel  string `yaml:"log-level"`
	LogFormat string `yaml:"log-format"`
}

// Load reads the config file, applies env overrides and fills defaults.
// A missing file yields a default configuration.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	data, errRead := os.ReadFile(configPath)
	if errRead != nil && !errors.Is(errRead, os.ErrNotExist) {
		return nil, fmt.Errorf("read config file: %w", errRead)
	}
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	}

	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		cfg.DatabaseDSN = strings.TrimSpace(cfg.Database.DSN)
	}
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		cfg.DatabaseDSN = DefaultDatabaseDSN
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.JWT.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			cfg.JWT.Expiry = expiry
		}
	}
	if proxyURL := strings.TrimSpace(os.Getenv(EnvProxyURL)); proxyURL != "" {
		cfg.Proxy.URL = proxyURL
		cfg.Proxy.Enabled = true
	}
	if relayKey := strings.TrimSpace(os.Getenv(EnvRelayAPIKey)); relayKey != "" {
		cfg.Relay.Key = relayKey
	}

	cfg.applyDefaults()
	if ref := cfg.Selfie.ReferenceImage; ref != "" && !filepath.IsAbs(ref) {
		cfg.Selfie.ReferenceImage = filepath.Join(filepath.Dir(configPath), ref)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.JWT.Expiry <= 0 {
		c.JWT.Expiry = defaultJWTExpiry
	}
	c.Google.URL = strings.TrimSpace(c.Google.URL)
	if c.Google.URL == "" {
		c.Google.URL = DefaultGoogleURL
	}
	c.Relay.URL = strings.TrimSpace(c.Relay.URL)
	c.Relay.Key = strings.TrimSpace(c.Relay.Key)
	if strings.TrimSpace(c.Relay.Model) == "" {
		c.Relay.Model = DefaultRelayModel
	}
	if strings.TrimSpace(c.DefaultModel) == "" {
		c.DefaultModel = DefaultModel
	}
	if c.Timeouts.Request <= 0 {
		c.Timeouts.Request = DefaultRequestTimeout
	}
	if c.Timeouts.Stream <= 0 {
		c.Timeouts.Stream = DefaultStreamTimeout
	}
	if c.Timeouts.Video <= 0 {
		c.Timeouts.Video = DefaultVideoTimeout
	}
	if c.AttemptDelay < 0 {
		c.AttemptDelay = 0
	} else if c.AttemptDelay == 0 {
		c.AttemptDelay = DefaultAttemptDelay
	}
	if c.Video.PollInterval <= 0 {
		c.Video.PollInterval = DefaultPollInterval
	}
	if c.Video.MaxPolls <= 0 {
		c.Video.MaxPolls = DefaultMaxPolls
	}
	if c.RateLimit.Limit < 0 {
		c.RateLimit.Limit = 0
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = DefaultRateLimitWindow
	}
	if strings.TrimSpace(c.RateLimit.Redis.Prefix) == "" {
		c.RateLimit.Redis.Prefix = DefaultRedisPrefix
	}
	if c.RateLimit.Redis.DB < 0 {
		c.RateLimit.Redis.DB = 0
	}
	c.Selfie.ReferenceImage = strings.TrimSpace(c.Selfie.ReferenceImage)
	c.Selfie.BasePrompt = strings.TrimSpace(c.Selfie.BasePrompt)
	c.Selfie.RandomActions = trimAll(c.Selfie.RandomActions)
	c.Admins = trimAll(c.Admins)
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// GoogleEnabled reports the configured Google default, true when unset.
func (c *Config) GoogleEnabled() bool {
	if c == nil || c.Google.Enabled == nil {
		return true
	}
	return *c.Google.Enabled
}

// ProxyURL returns the proxy URL when the proxy is enabled.
func (c *Config) ProxyURL() string {
	if c == nil || !c.Proxy.Enabled {
		return ""
	}
	return strings.TrimSpace(c.Proxy.URL)
}

// IsAdmin reports whether the chat user ID is listed in admins.
func (c *Config) IsAdmin(userID string) bool {
	if c == nil {
		return false
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}
	for _, admin := range c.Admins {
		if admin == userID {
			return true
		}
	}
	return false
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour
