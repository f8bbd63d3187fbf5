package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to PostgreSQL for postgres DSNs and to SQLite otherwise.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	if isPostgresDSN(dsn) {
		if _, errParse := pgx.ParseConfig(dsn); errParse != nil {
			return nil, fmt.Errorf("db: parse postgres dsn: %w", errParse)
		}
		conn, errOpen := gorm.Open(postgres.Open(dsn), gormCfg)
		if errOpen != nil {
			return nil, fmt.Errorf("db: open postgres: %w", errOpen)
		}
		return conn, nil
	}

	conn, errOpen := gorm.Open(sqlite.Open(dsn), gormCfg)
	if errOpen != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", errOpen)
	}
	if errPragma := conn.Exec("PRAGMA busy_timeout = 5000").Error; errPragma != nil {
		return nil, fmt.Errorf("db: sqlite busy timeout: %w", errPragma)
	}
	return conn, nil
}

func isPostgresDSN(dsn string) bool {
	lowered := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lowered, "postgres://") || strings.HasPrefix(lowered, "postgresql://") {
		return true
	}
	return strings.Contains(lowered, "host=") && strings.Contains(lowered, "dbname=")
}
