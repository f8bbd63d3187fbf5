package settings

import "sort"

// DB config keys and defaults for runtime settings.
const (
	// EnableGoogleKey toggles the official Gemini endpoint for google keys.
	EnableGoogleKey = "ENABLE_GOOGLE"
	// EnableRelayKey toggles the free relay endpoint.
	EnableRelayKey = "ENABLE_RELAY"
	// AdminOnlyModeKey restricts draw requests to configured admins.
	AdminOnlyModeKey = "ADMIN_ONLY_MODE"
	// DrawRateLimitKey controls the per-user draw limit per window.
	DrawRateLimitKey = "DRAW_RATE_LIMIT"
	// DrawRateWindowSecondsKey controls the draw rate window length.
	DrawRateWindowSecondsKey = "DRAW_RATE_WINDOW_SECONDS"
	// DrawRateLimitRedisEnabledKey toggles Redis-backed rate limiting.
	DrawRateLimitRedisEnabledKey = "DRAW_RATE_LIMIT_REDIS_ENABLED"
	// DrawRateLimitRedisAddrKey defines the Redis address for rate limiting.
	DrawRateLimitRedisAddrKey = "DRAW_RATE_LIMIT_REDIS_ADDR"
	// DrawRateLimitRedisPasswordKey defines the Redis password for rate limiting.
	DrawRateLimitRedisPasswordKey = "DRAW_RATE_LIMIT_REDIS_PASSWORD"
	// DrawRateLimitRedisDBKey defines the Redis DB index for rate limiting.
	DrawRateLimitRedisDBKey = "DRAW_RATE_LIMIT_REDIS_DB"
	// DrawRateLimitRedisPrefixKey defines the Redis key prefix for rate limiting.
	DrawRateLimitRedisPrefixKey = "DRAW_RATE_LIMIT_REDIS_PREFIX"
	// DefaultRefreshInterval is how often the snapshot is reloaded from the DB.
	DefaultRefreshInterval = 30
)

type valueKind int

const (
	kindBool valueKind = iota
	kindNonNegativeInt
	kindPositiveInt
	kindString
)

var knownKeys = map[string]valueKind{
	EnableGoogleKey:               kindBool,
	EnableRelayKey:                kindBool,
	AdminOnlyModeKey:              kindBool,
	DrawRateLimitKey:              kindNonNegativeInt,
	DrawRateWindowSecondsKey:      kindPositiveInt,
	DrawRateLimitRedisEnabledKey:  kindBool,
	DrawRateLimitRedisAddrKey:     kindString,
	DrawRateLimitRedisPasswordKey: kindString,
	DrawRateLimitRedisDBKey:       kindNonNegativeInt,
	DrawRateLimitRedisPrefixKey:   kindString,
}

// IsKnownKey reports whether key is a recognised runtime setting.
func IsKnownKey(key string) bool {
	_, ok := knownKeys[key]
	return ok
}

// KnownKeys returns every recognised runtime setting key in sorted order.
func KnownKeys() []string {
	keys := make([]string, 0, len(knownKeys))
	for key := range knownKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
