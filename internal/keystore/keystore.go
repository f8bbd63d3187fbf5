package keystore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/GeminiDrawer/internal/media"
	"github.com/router-for-me/GeminiDrawer/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Channel types with built-in meaning.
const (
	TypeGoogle   = models.KeyTypeGoogle
	TypeLegacySK = models.KeyTypeLegacySK
)

var (
	errNotInitialized = errors.New("key store: not initialized")
	// ErrInvalidLimit is returned for error limits below -1.
	ErrInvalidLimit = errors.New("key store: limit must be -1 or a non-negative integer")
	// ErrMissingChannel is returned when a channel type is required but empty.
	ErrMissingChannel = errors.New("key store: channel type is required")
)

// Store persists API keys and serializes every read-modify-write.
type Store struct {
	db  *gorm.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewStore constructs a Store backed by db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// InferType returns the channel type assumed for a key stored without one.
func InferType(value string) string {
	return models.InferKeyType(value)
}

// EffectiveType returns the key's channel type, inferring it when unset.
func EffectiveType(key models.APIKey) string {
	if channelType := strings.TrimSpace(key.ChannelType); channelType != "" {
		return channelType
	}
	return InferType(key.Value)
}

func (s *Store) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

// AddKeys inserts new active keys for channelType and reports how many were
// added and how many already existed anywhere in the store.
func (s *Store) AddKeys(ctx context.Context, values []string, channelType string) (int, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errNotInitialized
	}
	channelType = strings.TrimSpace(channelType)
	if channelType == "" {
		return 0, 0, ErrMissingChannel
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added, duplicates := 0, 0
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		if errFind := tx.Model(&models.APIKey{}).Pluck("value", &existing).Error; errFind != nil {
			return fmt.Errorf("key store: load values: %w", errFind)
		}
		seen := make(map[string]struct{}, len(existing)+len(values))
		for _, value := range existing {
			seen[value] = struct{}{}
		}
		now := s.clock()
		for _, raw := range values {
			value := strings.TrimSpace(raw)
			if value == "" {
				continue
			}
			if _, ok := seen[value]; ok {
				duplicates++
				continue
			}
			seen[value] = struct{}{}
			row := models.APIKey{
				Value:       value,
				ChannelType: channelType,
				Status:      models.KeyStatusActive,
				ErrorCount:  0,
				MaxErrors:   models.DefaultKeyMaxErrors,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if errCreate := tx.Create(&row).Error; errCreate != nil {
				return fmt.Errorf("key store: insert: %w", errCreate)
			}
			added++
		}
		return nil
	})
	if errTx != nil {
		return 0, 0, errTx
	}
	return added, duplicates, nil
}

// List returns every key in insertion order.
func (s *Store) List(ctx context.Context) ([]models.APIKey, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var rows []models.APIKey
	if errFind := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("key store: list: %w", errFind)
	}
	return rows, nil
}

// RecordUsage applies the outcome of one attempt to the key with the given value.
// Unknown values are ignored.
func (s *Store) RecordUsage(ctx context.Context, value string, success, forceDisable bool) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var key models.APIKey
		errFind := tx.Where("value = ?", value).Take(&key).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil
		}
		if errFind != nil {
			return fmt.Errorf("key store: find key: %w", errFind)
		}

		now := s.clock()
		updates := map[string]any{"last_used_at": &now, "updated_at": now}
		if success {
			updates["error_count"] = 0
		} else {
			key.ErrorCount++
			updates["error_count"] = key.ErrorCount
			if shouldDisable(key, forceDisable) && key.IsActive() {
				updates["status"] = models.KeyStatusDisabled
				reason := "too many errors"
				if forceDisable {
					reason = "quota exhausted"
				}
				log.WithFields(log.Fields{
					"key":         media.Mask(key.Value),
					"channel":     EffectiveType(key),
					"error_count": key.ErrorCount,
					"reason":      reason,
				}).Warn("key store: key disabled")
			}
		}
		if errUpdate := tx.Model(&models.APIKey{}).Where("id = ?", key.ID).Updates(updates).Error; errUpdate != nil {
			return fmt.Errorf("key store: update usage: %w", errUpdate)
		}
		return nil
	})
}

func shouldDisable(key models.APIKey, forceDisable bool) bool {
	if key.MaxErrors == models.NeverDisable {
		return false
	}
	return forceDisable || key.ErrorCount >= key.MaxErrors
}

// ResetAll reactivates disabled keys, optionally limited to one channel type,
// and returns how many keys changed.
func (s *Store) ResetAll(ctx context.Context, channelType string) (int, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	channelType = strings.TrimSpace(channelType)

	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.db.WithContext(ctx).Model(&models.APIKey{}).Where("status = ?", models.KeyStatusDisabled)
	if channelType != "" {
		query = query.Where("channel_type = ?", channelType)
	}
	res := query.Updates(map[string]any{
		"status":      models.KeyStatusActive,
		"error_count": 0,
		"updated_at":  s.clock(),
	})
	if res.Error != nil {
		return 0, fmt.Errorf("key store: reset: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// ResetOne reactivates the index-th key (1-based) of a channel type.
func (s *Store) ResetOne(ctx context.Context, channelType string, index int) (bool, error) {
	return s.mutateNth(ctx, channelType, index, func(tx *gorm.DB, key models.APIKey) error {
		return tx.Model(&models.APIKey{}).Where("id = ?", key.ID).Updates(map[string]any{
			"status":      models.KeyStatusActive,
			"error_count": 0,
			"updated_at":  s.clock(),
		}).Error
	})
}

// SetMaxErrors sets the error budget of the index-th key (1-based) of a channel type.
func (s *Store) SetMaxErrors(ctx context.Context, channelType string, index, limit int) (bool, error) {
	if limit < models.NeverDisable {
		return false, ErrInvalidLimit
	}
	return s.mutateNth(ctx, channelType, index, func(tx *gorm.DB, key models.APIKey) error {
		return tx.Model(&models.APIKey{}).Where("id = ?", key.ID).Updates(map[string]any{
			"max_errors": limit,
			"updated_at": s.clock(),
		}).Error
	})
}

// DeleteOne removes the index-th key (1-based) of a channel type.
func (s *Store) DeleteOne(ctx context.Context, channelType string, index int) (bool, error) {
	return s.mutateNth(ctx, channelType, index, func(tx *gorm.DB, key models.APIKey) error {
		if errDelete := tx.Delete(&models.APIKey{}, key.ID).Error; errDelete != nil {
			return errDelete
		}
		log.WithFields(log.Fields{
			"key":     media.Mask(key.Value),
			"channel": EffectiveType(key),
			"index":   index,
		}).Info("key store: key deleted")
		return nil
	})
}

func (s *Store) mutateNth(ctx context.Context, channelType string, index int, apply func(tx *gorm.DB, key models.APIKey) error) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNotInitialized
	}
	channelType = strings.TrimSpace(channelType)
	if channelType == "" {
		return false, ErrMissingChannel
	}
	if index < 1 {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.APIKey
		if errFind := tx.Order("id ASC").Find(&rows).Error; errFind != nil {
			return fmt.Errorf("key store: list: %w", errFind)
		}
		position := 0
		for _, row := range rows {
			if EffectiveType(row) != channelType {
				continue
			}
			position++
			if position != index {
				continue
			}
			found = true
			if errApply := apply(tx, row); errApply != nil {
				return fmt.Errorf("key store: update key: %w", errApply)
			}
			return nil
		}
		return nil
	})
	if errTx != nil {
		return false, errTx
	}
	return found, nil
}
