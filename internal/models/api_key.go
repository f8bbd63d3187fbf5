package models

import (
	"strings"
	"time"
)

// API key status values.
const (
	KeyStatusActive   = "active"
	KeyStatusDisabled = "disabled"
)

// Key channel types with built-in meaning.
const (
	KeyTypeGoogle = "google"
	// KeyTypeLegacySK is inferred for untyped keys that look like OpenAI-style secrets.
	KeyTypeLegacySK = "bailili"
)

// InferKeyType returns the channel type assumed for a key stored without one.
func InferKeyType(value string) string {
	if strings.HasPrefix(strings.TrimSpace(value), "sk-") {
		return KeyTypeLegacySK
	}
	return KeyTypeGoogle
}

// DefaultKeyMaxErrors is the error budget applied to newly added keys.
const DefaultKeyMaxErrors = 5

// NeverDisable marks a key that is never disabled automatically.
const NeverDisable = -1

// APIKey stores an upstream vendor credential and its health counters.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key, also the insertion order.

	Value       string `gorm:"type:text;not null;uniqueIndex"`   // Secret credential.
	ChannelType string `gorm:"type:varchar(128);not null;index"` // Vendor or custom channel name.
	Status      string `gorm:"type:varchar(16);not null;index"`  // active or disabled.
	ErrorCount  int    `gorm:"not null"`                         // Consecutive failures.
	MaxErrors   int    `gorm:"not null"`                         // Disable threshold, -1 for never.

	LastUsedAt *time.Time // Last completed attempt.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsActive reports whether the key may be planned.
func (k APIKey) IsActive() bool {
	return k.Status == KeyStatusActive
}
