package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/router-for-me/GeminiDrawer/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type snapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var globalSnapshot atomic.Value

func init() {
	globalSnapshot.Store(snapshot{values: make(map[string]json.RawMessage)})
}

// StoreDBConfig replaces the in-memory settings snapshot.
func StoreDBConfig(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for key, value := range values {
		next[key] = value
	}
	globalSnapshot.Store(snapshot{updatedAt: updatedAt.UTC(), values: next})
}

// DBConfigValue returns the raw value stored for key.
func DBConfigValue(key string) (json.RawMessage, bool) {
	snap, ok := globalSnapshot.Load().(snapshot)
	if !ok || snap.values == nil {
		return nil, false
	}
	value, ok := snap.values[key]
	return value, ok
}

// UpdatedAt returns the newest row timestamp seen by the last refresh.
func UpdatedAt() time.Time {
	snap, ok := globalSnapshot.Load().(snapshot)
	if !ok {
		return time.Time{}
	}
	return snap.updatedAt
}

// Bool returns the boolean setting for key, or def when unset or invalid.
func Bool(key string, def bool) bool {
	raw, ok := DBConfigValue(key)
	if !ok {
		return def
	}
	parsed, okParse := ParseBool(raw)
	if !okParse {
		return def
	}
	return parsed
}

// Int returns the non-negative integer setting for key, or def.
func Int(key string, def int) int {
	raw, ok := DBConfigValue(key)
	if !ok {
		return def
	}
	parsed, okParse := ParseNonNegativeInt(raw)
	if !okParse {
		return def
	}
	return parsed
}

// String returns the string setting for key, or def.
func String(key, def string) string {
	raw, ok := DBConfigValue(key)
	if !ok {
		return def
	}
	parsed, okParse := ParseString(raw)
	if !okParse {
		return def
	}
	return parsed
}

// Refresh rebuilds the in-memory snapshot from the settings table.
func Refresh(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	var rows []models.Setting
	if errFind := db.WithContext(ctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return fmt.Errorf("settings: load: %w", errFind)
	}

	values := make(map[string]json.RawMessage, len(rows))
	maxUpdatedAt := time.Time{}
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = json.RawMessage(row.Value)
		if rowUpdatedAt := row.UpdatedAt.UTC(); rowUpdatedAt.After(maxUpdatedAt) {
			maxUpdatedAt = rowUpdatedAt
		}
	}
	StoreDBConfig(maxUpdatedAt, values)
	return nil
}

// Put validates and upserts one setting, then refreshes the snapshot.
func Put(ctx context.Context, db *gorm.DB, key string, value json.RawMessage) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	key = strings.TrimSpace(key)
	if errValidate := Validate(key, value); errValidate != nil {
		return errValidate
	}
	row := models.Setting{Key: key, Value: []byte(value), UpdatedAt: time.Now().UTC()}
	if errUpsert := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error; errUpsert != nil {
		return fmt.Errorf("settings: upsert %s: %w", key, errUpsert)
	}
	return Refresh(ctx, db)
}

// Delete removes the stored value for key so callers fall back to config
// defaults, then refreshes the snapshot. It reports whether a row existed.
func Delete(ctx context.Context, db *gorm.DB, key string) (bool, error) {
	if db == nil {
		return false, errors.New("settings: nil db")
	}
	key = strings.TrimSpace(key)
	if !IsKnownKey(key) {
		return false, ErrUnknownKey
	}
	res := db.WithContext(ctx).Where("key = ?", key).Delete(&models.Setting{})
	if res.Error != nil {
		return false, fmt.Errorf("settings: delete %s: %w", key, res.Error)
	}
	return res.RowsAffected > 0, Refresh(ctx, db)
}

// PutBool stores a boolean setting.
func PutBool(ctx context.Context, db *gorm.DB, key string, value bool) error {
	raw, _ := json.Marshal(value)
	return Put(ctx, db, key, raw)
}

// StartRefresher reloads the snapshot every interval until ctx is done.
func StartRefresher(ctx context.Context, db *gorm.DB, interval time.Duration) {
	if db == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if errRefresh := Refresh(ctx, db); errRefresh != nil {
					if errors.Is(errRefresh, context.Canceled) {
						return
					}
					log.WithError(errRefresh).Warn("settings: refresh failed")
				}
			}
		}
	}()
}
