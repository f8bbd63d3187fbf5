package prompts

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/router-for-me/GeminiDrawer/internal/db"
	"github.com/router-for-me/GeminiDrawer/internal/models"
	"gorm.io/gorm"
)

var (
	errNotInitialized = errors.New("prompts: not initialized")
	// ErrPresetExists is returned when adding a name that is already taken.
	ErrPresetExists = errors.New("prompts: preset already exists")
	// ErrNoPresets is returned by Random when nothing is stored.
	ErrNoPresets = errors.New("prompts: no presets defined")
	// ErrNotFound is returned when the named preset does not exist.
	ErrNotFound = errors.New("prompts: preset not found")
	// ErrMalformedDefinition is returned when a definition lacks name or text.
	ErrMalformedDefinition = errors.New("prompts: definition must look like name:text")
)

// Store manages prompt presets.
type Store struct {
	db   *gorm.DB
	mu   sync.Mutex
	pick func(n int) int
}

// NewStore constructs a Store backed by db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, pick: rand.IntN}
}

// All returns every preset ordered by name.
func (s *Store) All(ctx context.Context) ([]models.PromptPreset, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var rows []models.PromptPreset
	if errFind := s.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("prompts: list: %w", errFind)
	}
	return rows, nil
}

// Search returns presets whose name or text contains term, ignoring case.
// An empty term returns every preset.
func (s *Store) Search(ctx context.Context, term string) ([]models.PromptPreset, error) {
	if strings.TrimSpace(term) == "" {
		return s.All(ctx)
	}
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	pattern := db.ContainsPattern(s.db, term)
	var rows []models.PromptPreset
	errFind := s.db.WithContext(ctx).
		Where(db.CaseInsensitiveLikeExpr(s.db, "name")+" OR "+db.CaseInsensitiveLikeExpr(s.db, "text"), pattern, pattern).
		Order("name ASC").
		Find(&rows).Error
	if errFind != nil {
		return nil, fmt.Errorf("prompts: search: %w", errFind)
	}
	return rows, nil
}

// Get returns the named preset.
func (s *Store) Get(ctx context.Context, name string) (*models.PromptPreset, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var row models.PromptPreset
	errFind := s.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).Take(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if errFind != nil {
		return nil, fmt.Errorf("prompts: get: %w", errFind)
	}
	return &row, nil
}

// Add stores a new preset.
func (s *Store) Add(ctx context.Context, name, text string) (*models.PromptPreset, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	name = strings.TrimSpace(name)
	text = strings.TrimSpace(text)
	if name == "" || text == "" {
		return nil, ErrMalformedDefinition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	if errCount := s.db.WithContext(ctx).Model(&models.PromptPreset{}).Where("name = ?", name).Count(&count).Error; errCount != nil {
		return nil, fmt.Errorf("prompts: check name: %w", errCount)
	}
	if count > 0 {
		return nil, ErrPresetExists
	}
	row := models.PromptPreset{Name: name, Text: text}
	if errCreate := s.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return nil, fmt.Errorf("prompts: create: %w", errCreate)
	}
	return &row, nil
}

// Delete removes the named preset and reports whether it existed.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).Delete(&models.PromptPreset{})
	if res.Error != nil {
		return false, fmt.Errorf("prompts: delete: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Random returns a uniformly chosen preset.
func (s *Store) Random(ctx context.Context) (*models.PromptPreset, error) {
	rows, errAll := s.All(ctx)
	if errAll != nil {
		return nil, errAll
	}
	if len(rows) == 0 {
		return nil, ErrNoPresets
	}
	pick := s.pick
	if pick == nil {
		pick = rand.IntN
	}
	row := rows[pick(len(rows))]
	return &row, nil
}

// ParseDefinition splits "name:text" on the first ASCII or full-width colon.
func ParseDefinition(def string) (string, string, error) {
	def = strings.TrimSpace(def)
	idx := strings.IndexAny(def, ":：")
	if idx < 0 {
		return "", "", ErrMalformedDefinition
	}
	name := strings.TrimSpace(def[:idx])
	rest := def[idx:]
	if strings.HasPrefix(rest, "：") {
		rest = strings.TrimPrefix(rest, "：")
	} else {
		rest = strings.TrimPrefix(rest, ":")
	}
	text := strings.TrimSpace(rest)
	if name == "" || text == "" {
		return "", "", ErrMalformedDefinition
	}
	return name, text, nil
}
