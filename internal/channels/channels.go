package channels

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/GeminiDrawer/internal/models"
	"gorm.io/gorm"
)

var (
	errNotInitialized = errors.New("channels: not initialized")
	// ErrNotFound is returned when the named channel does not exist.
	ErrNotFound = errors.New("channels: channel not found")
	// ErrExists is returned when creating a channel whose name is taken.
	ErrExists = errors.New("channels: channel already exists")
	// ErrInvalidName is returned for empty or reserved names.
	ErrInvalidName = errors.New("channels: invalid channel name")
)

// Reserved names are pseudo-channels backed by settings, not rows.
var reservedNames = map[string]struct{}{
	"google":  {},
	"relay":   {},
	"lmarena": {},
}

// IsReserved reports whether name refers to a settings-backed pseudo-channel.
func IsReserved(name string) bool {
	_, ok := reservedNames[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Registry manages custom channel rows.
type Registry struct {
	db  *gorm.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewRegistry constructs a Registry backed by db.
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db, now: time.Now}
}

func (r *Registry) clock() time.Time {
	if r.now == nil {
		return time.Now().UTC()
	}
	return r.now().UTC()
}

// All returns every channel keyed by name.
func (r *Registry) All(ctx context.Context) (map[string]models.Channel, error) {
	rows, errList := r.List(ctx)
	if errList != nil {
		return nil, errList
	}
	out := make(map[string]models.Channel, len(rows))
	for _, row := range rows {
		out[row.Name] = row
	}
	return out, nil
}

// List returns every channel ordered by name.
func (r *Registry) List(ctx context.Context) ([]models.Channel, error) {
	if r == nil || r.db == nil {
		return nil, errNotInitialized
	}
	var rows []models.Channel
	if errFind := r.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("channels: list: %w", errFind)
	}
	return rows, nil
}

// Get returns the named channel.
func (r *Registry) Get(ctx context.Context, name string) (*models.Channel, error) {
	if r == nil || r.db == nil {
		return nil, errNotInitialized
	}
	var row models.Channel
	errFind := r.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).Take(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if errFind != nil {
		return nil, fmt.Errorf("channels: get: %w", errFind)
	}
	return &row, nil
}

// Create inserts a new enabled channel.
func (r *Registry) Create(ctx context.Context, ch models.Channel) (*models.Channel, error) {
	if r == nil || r.db == nil {
		return nil, errNotInitialized
	}
	ch.Name = strings.TrimSpace(ch.Name)
	ch.URL = strings.TrimSpace(ch.URL)
	ch.Model = strings.TrimSpace(ch.Model)
	ch.Key = strings.TrimSpace(ch.Key)
	if ch.Name == "" || IsReserved(ch.Name) {
		return nil, ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	if errCount := r.db.WithContext(ctx).Model(&models.Channel{}).Where("name = ?", ch.Name).Count(&count).Error; errCount != nil {
		return nil, fmt.Errorf("channels: check name: %w", errCount)
	}
	if count > 0 {
		return nil, ErrExists
	}
	now := r.clock()
	ch.ID = 0
	ch.CreatedAt = now
	ch.UpdatedAt = now
	if errCreate := r.db.WithContext(ctx).Create(&ch).Error; errCreate != nil {
		return nil, fmt.Errorf("channels: create: %w", errCreate)
	}
	return &ch, nil
}

// Update overwrites url, model, key and flags of an existing channel.
func (r *Registry) Update(ctx context.Context, ch models.Channel) (*models.Channel, error) {
	name := strings.TrimSpace(ch.Name)
	return r.update(ctx, name, map[string]any{
		"url":      strings.TrimSpace(ch.URL),
		"model":    strings.TrimSpace(ch.Model),
		"key":      strings.TrimSpace(ch.Key),
		"enabled":  ch.Enabled,
		"stream":   ch.Stream,
		"is_video": ch.IsVideo,
	})
}

// Delete removes the named channel and reports whether it existed.
func (r *Registry) Delete(ctx context.Context, name string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errNotInitialized
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).Delete(&models.Channel{})
	if res.Error != nil {
		return false, fmt.Errorf("channels: delete: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SetEnabled toggles planner selection of the channel.
func (r *Registry) SetEnabled(ctx context.Context, name string, enabled bool) (*models.Channel, error) {
	return r.update(ctx, name, map[string]any{"enabled": enabled})
}

// SetStream toggles SSE requests for the channel.
func (r *Registry) SetStream(ctx context.Context, name string, stream bool) (*models.Channel, error) {
	return r.update(ctx, name, map[string]any{"stream": stream})
}

// SetVideo marks the channel as a video channel.
func (r *Registry) SetVideo(ctx context.Context, name string, video bool) (*models.Channel, error) {
	return r.update(ctx, name, map[string]any{"is_video": video})
}

var geminiModelPath = regexp.MustCompile(`(/models/)([^/:]+)(:generateContent)`)

// UpdateModel sets the channel model. For Gemini URLs the model segment of
// the path is rewritten as well.
func (r *Registry) UpdateModel(ctx context.Context, name, model string) (*models.Channel, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("channels: model is required")
	}
	current, errGet := r.Get(ctx, name)
	if errGet != nil {
		return nil, errGet
	}
	updates := map[string]any{"model": model}
	if strings.Contains(current.URL, "generateContent") {
		updates["url"] = geminiModelPath.ReplaceAllString(current.URL, "${1}"+model+"${3}")
	}
	return r.update(ctx, name, updates)
}

func (r *Registry) update(ctx context.Context, name string, updates map[string]any) (*models.Channel, error) {
	if r == nil || r.db == nil {
		return nil, errNotInitialized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	updates["updated_at"] = r.clock()
	res := r.db.WithContext(ctx).Model(&models.Channel{}).Where("name = ?", name).Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("channels: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	var row models.Channel
	if errFind := r.db.WithContext(ctx).Where("name = ?", name).Take(&row).Error; errFind != nil {
		return nil, fmt.Errorf("channels: reload: %w", errFind)
	}
	return &row, nil
}
