package models

import "time"

// Channel stores a named custom endpoint configuration.
type Channel struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name  string `gorm:"type:varchar(128);not null;uniqueIndex"` // Unique channel name.
	URL   string `gorm:"type:text;not null"`                     // Endpoint URL.
	Model string `gorm:"type:text"`                              // Optional model override.
	Key   string `gorm:"type:text"`                              // Legacy inline credential.

	Enabled bool `gorm:"not null"` // Selectable by the planner.
	Stream  bool `gorm:"not null"` // Use SSE requests.
	IsVideo bool `gorm:"not null"` // Video channel instead of image channel.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
