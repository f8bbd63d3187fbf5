package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/router-for-me/GeminiDrawer/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LegacyReport counts the rows created by ImportLegacy.
type LegacyReport struct {
	Keys     int
	Prompts  int
	Channels int
	// MovedKeys counts inline channel keys moved into the key store.
	MovedKeys int
}

type legacyKeysFile struct {
	Keys []legacyKey `json:"keys"`
}

type legacyKey struct {
	Value      string          `json:"value"`
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	ErrorCount int             `json:"error_count"`
	LastUsed   json.RawMessage `json:"last_used"`
	MaxErrors  *int            `json:"max_errors"`
}

type legacyDataFile struct {
	Prompts  map[string]string          `json:"prompts"`
	Channels map[string]json.RawMessage `json:"channels"`
}

type legacyChannel struct {
	URL     string `json:"url"`
	Key     string `json:"key"`
	Model   string `json:"model"`
	Enabled *bool  `json:"enabled"`
	Stream  bool   `json:"stream"`
	IsVideo bool   `json:"is_video"`
}

// ImportLegacy imports keys.json and data.json from the file-based plugin.
// Either path may be empty. Rows that already exist are left untouched.
func ImportLegacy(ctx context.Context, conn *gorm.DB, keysPath, dataPath string) (LegacyReport, error) {
	var report LegacyReport
	if conn == nil {
		return report, fmt.Errorf("db: nil connection")
	}

	var keysFile legacyKeysFile
	if errRead := readLegacyJSON(keysPath, &keysFile); errRead != nil {
		return report, errRead
	}
	var dataFile legacyDataFile
	if errRead := readLegacyJSON(dataPath, &dataFile); errRead != nil {
		return report, errRead
	}

	now := time.Now().UTC()
	errTx := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range keysFile.Keys {
			row, ok := legacyKeyRow(key, now)
			if !ok {
				continue
			}
			created, errCreate := createIfMissing(tx, &row, "value")
			if errCreate != nil {
				return fmt.Errorf("db: import key: %w", errCreate)
			}
			if created {
				report.Keys++
			}
		}

		for name, text := range dataFile.Prompts {
			name = strings.TrimSpace(name)
			if name == "" || strings.TrimSpace(text) == "" {
				continue
			}
			row := models.PromptPreset{Name: name, Text: text, CreatedAt: now, UpdatedAt: now}
			created, errCreate := createIfMissing(tx, &row, "name")
			if errCreate != nil {
				return fmt.Errorf("db: import prompt %s: %w", name, errCreate)
			}
			if created {
				report.Prompts++
			}
		}

		for name, raw := range dataFile.Channels {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			channel, inlineKey, errParse := parseLegacyChannel(raw)
			if errParse != nil {
				log.WithError(errParse).WithField("channel", name).Warn("db: skip unreadable legacy channel")
				continue
			}
			enabled := channel.Enabled == nil || *channel.Enabled
			row := models.Channel{
				Name:      name,
				URL:       strings.TrimSpace(channel.URL),
				Model:     strings.TrimSpace(channel.Model),
				Enabled:   enabled,
				Stream:    channel.Stream,
				IsVideo:   channel.IsVideo,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if row.URL == "" {
				continue
			}
			created, errCreate := createIfMissing(tx, &row, "name")
			if errCreate != nil {
				return fmt.Errorf("db: import channel %s: %w", name, errCreate)
			}
			if created {
				report.Channels++
			}
			if inlineKey == "" {
				continue
			}
			keyRow := models.APIKey{
				Value:       inlineKey,
				ChannelType: name,
				Status:      models.KeyStatusActive,
				MaxErrors:   models.DefaultKeyMaxErrors,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			moved, errMove := createIfMissing(tx, &keyRow, "value")
			if errMove != nil {
				return fmt.Errorf("db: move key of channel %s: %w", name, errMove)
			}
			if moved {
				report.MovedKeys++
			}
		}
		return nil
	})
	if errTx != nil {
		return LegacyReport{}, errTx
	}
	log.WithFields(log.Fields{
		"keys":       report.Keys,
		"prompts":    report.Prompts,
		"channels":   report.Channels,
		"moved_keys": report.MovedKeys,
	}).Info("db: legacy import finished")
	return report, nil
}

func readLegacyJSON(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return fmt.Errorf("db: read legacy file %s: %w", path, errRead)
	}
	if errUnmarshal := json.Unmarshal(data, out); errUnmarshal != nil {
		return fmt.Errorf("db: parse legacy file %s: %w", path, errUnmarshal)
	}
	return nil
}

func createIfMissing(tx *gorm.DB, row any, column string) (bool, error) {
	res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: column}}, DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func legacyKeyRow(key legacyKey, now time.Time) (models.APIKey, bool) {
	value := strings.TrimSpace(key.Value)
	if value == "" {
		return models.APIKey{}, false
	}
	channelType := strings.TrimSpace(key.Type)
	if channelType == "" {
		channelType = models.InferKeyType(value)
	}
	status := strings.TrimSpace(key.Status)
	if status != models.KeyStatusDisabled {
		status = models.KeyStatusActive
	}
	maxErrors := models.DefaultKeyMaxErrors
	if key.MaxErrors != nil && *key.MaxErrors >= models.NeverDisable {
		maxErrors = *key.MaxErrors
	}
	errorCount := key.ErrorCount
	if errorCount < 0 {
		errorCount = 0
	}
	return models.APIKey{
		Value:       value,
		ChannelType: channelType,
		Status:      status,
		ErrorCount:  errorCount,
		MaxErrors:   maxErrors,
		LastUsedAt:  parseLegacyTime(key.LastUsed),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, true
}

// parseLegacyTime accepts unix seconds or an RFC 3339 string.
func parseLegacyTime(raw json.RawMessage) *time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var seconds float64
	if errNum := json.Unmarshal(raw, &seconds); errNum == nil && seconds > 0 {
		t := time.Unix(0, int64(seconds*float64(time.Second))).UTC()
		return &t
	}
	var text string
	if errStr := json.Unmarshal(raw, &text); errStr == nil {
		if t, errParse := time.Parse(time.RFC3339, strings.TrimSpace(text)); errParse == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// parseLegacyChannel accepts an object or a "url" / "url:key" string.
func parseLegacyChannel(raw json.RawMessage) (legacyChannel, string, error) {
	var text string
	if errStr := json.Unmarshal(raw, &text); errStr == nil {
		url, key := splitLegacyURLKey(strings.TrimSpace(text))
		return legacyChannel{URL: url}, key, nil
	}
	var channel legacyChannel
	if errObj := json.Unmarshal(raw, &channel); errObj != nil {
		return legacyChannel{}, "", errors.New("channel is neither a string nor an object")
	}
	key := strings.TrimSpace(channel.Key)
	channel.Key = ""
	return channel, key, nil
}

// splitLegacyURLKey separates a trailing key from a "url:key" string. The
// suffix is kept as part of the URL when it looks like a path, a Gemini
// method or a port.
func splitLegacyURLKey(value string) (string, string) {
	idx := strings.LastIndex(value, ":")
	if idx < 0 {
		return value, ""
	}
	url, key := value[:idx], value[idx+1:]
	switch {
	case key == "":
		return value, ""
	case strings.Contains(key, "/"):
		return value, ""
	case key == "generateContent" || key == "streamGenerateContent":
		return value, ""
	case len(key) < 10 && !strings.HasPrefix(key, "sk-"):
		lowered := strings.ToLower(url)
		if lowered == "http" || lowered == "https" || isDigits(key) {
			return value, ""
		}
	}
	return url, key
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
