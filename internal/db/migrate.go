package db

import (
	"fmt"

	"github.com/router-for-me/GeminiDrawer/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.APIKey{},
		&models.Channel{},
		&models.PromptPreset{},
		&models.Setting{},
		&models.Generation{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errIndex := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_api_keys_channel_order
		ON api_keys (channel_type, id)
	`).Error; errIndex != nil {
		return fmt.Errorf("db: create api key order index: %w", errIndex)
	}
	return nil
}
