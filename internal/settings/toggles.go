package settings

import "github.com/router-for-me/GeminiDrawer/internal/config"

// GoogleEnabled returns the effective Google toggle, falling back to cfg.
func GoogleEnabled(cfg *config.Config) bool {
	return Bool(EnableGoogleKey, cfg.GoogleEnabled())
}

// RelayEnabled returns the effective relay toggle, falling back to cfg.
func RelayEnabled(cfg *config.Config) bool {
	return Bool(EnableRelayKey, cfg != nil && cfg.Relay.Enabled)
}

// AdminOnly reports whether draws are restricted to admins.
func AdminOnly() bool {
	return Bool(AdminOnlyModeKey, false)
}
