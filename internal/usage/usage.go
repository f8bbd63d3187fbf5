package usage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/router-for-me/GeminiDrawer/internal/media"
	"github.com/router-for-me/GeminiDrawer/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// lastErrorLimit caps the stored error text in runes.
	lastErrorLimit = 1000
	// DefaultListLimit applies when List is called without a limit.
	DefaultListLimit = 50
	// MaxListLimit caps a single List page.
	MaxListLimit = 500

	writeTimeout = 5 * time.Second
)

var errNotInitialized = errors.New("usage: recorder not initialized")

// Entry describes one finished draw or video request.
type Entry struct {
	Kind     string
	Command  string
	UserID   string
	GroupID  string
	Success  bool
	Attempts int
	Endpoint string
	Elapsed  time.Duration
	Error    string
}

// Recorder persists generation rows.
type Recorder struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRecorder constructs a Recorder backed by GORM.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db, now: time.Now}
}

// Record stores entry. The write survives cancellation of ctx so that
// aborted HTTP requests are still logged.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errNotInitialized
	}
	kind := strings.TrimSpace(entry.Kind)
	if kind == "" {
		kind = models.GenerationKindImage
	}
	row := models.Generation{
		Kind:      kind,
		Command:   strings.TrimSpace(entry.Command),
		UserID:    strings.TrimSpace(entry.UserID),
		GroupID:   strings.TrimSpace(entry.GroupID),
		Success:   entry.Success,
		Attempts:  entry.Attempts,
		Endpoint:  strings.TrimSpace(entry.Endpoint),
		ElapsedMs: entry.Elapsed.Milliseconds(),
		LastError: media.TruncateForLog(strings.TrimSpace(entry.Error), lastErrorLimit),
		CreatedAt: r.now().UTC(),
	}

	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if errCreate := r.db.WithContext(dbCtx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("kind", row.Kind).Warn("usage: failed to persist generation")
		return errCreate
	}
	return nil
}

// Filter narrows List results.
type Filter struct {
	Limit   int
	Success *bool
	Kind    string
	UserID  string
}

// List returns the newest generations first.
func (r *Recorder) List(ctx context.Context, filter Filter) ([]models.Generation, error) {
	if r == nil || r.db == nil {
		return nil, errNotInitialized
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	q := r.db.WithContext(ctx).Model(&models.Generation{})
	if filter.Success != nil {
		q = q.Where("success = ?", *filter.Success)
	}
	if kind := strings.TrimSpace(filter.Kind); kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var rows []models.Generation
	if errFind := q.Order("id DESC").Limit(limit).Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// Summary counts all and successful generations.
type Summary struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
}

// Summarize returns totals across all generations.
func (r *Recorder) Summarize(ctx context.Context) (Summary, error) {
	if r == nil || r.db == nil {
		return Summary{}, errNotInitialized
	}
	var out Summary
	if errCount := r.db.WithContext(ctx).Model(&models.Generation{}).Count(&out.Total).Error; errCount != nil {
		return Summary{}, errCount
	}
	if errCount := r.db.WithContext(ctx).Model(&models.Generation{}).Where("success = ?", true).Count(&out.Succeeded).Error; errCount != nil {
		return Summary{}, errCount
	}
	return out, nil
}
