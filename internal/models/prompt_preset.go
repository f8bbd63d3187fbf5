package models

import "time"

// PromptPreset stores a named prompt used by preset draw requests.
type PromptPreset struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement"`               // Primary key.
	Name string `gorm:"type:varchar(255);not null;uniqueIndex"` // Preset name.
	Text string `gorm:"type:text;not null"`                     // Prompt body.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
