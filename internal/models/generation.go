package models

import "time"

// Generation kinds.
const (
	GenerationKindImage = "image"
	GenerationKindVideo = "video"
)

// Generation records the outcome of one draw or video request.
type Generation struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Kind    string `gorm:"type:varchar(16);not null;index"` // image or video.
	Command string `gorm:"type:varchar(255)"`               // Triggering command or preset name.
	UserID  string `gorm:"type:varchar(64);index"`          // Requesting chat user.
	GroupID string `gorm:"type:varchar(64);index"`          // Originating chat group.

	Success   bool   `gorm:"not null;index"` // Whether media was produced.
	Attempts  int    `gorm:"not null"`       // Endpoints tried.
	Endpoint  string `gorm:"type:text"`      // Channel type of the final attempt.
	ElapsedMs int64  `gorm:"not null"`       // Wall time in milliseconds.
	LastError string `gorm:"type:text"`      // Last attempt error, truncated.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
