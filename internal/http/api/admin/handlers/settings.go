package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GeminiDrawer/internal/models"
	internalsettings "github.com/router-for-me/GeminiDrawer/internal/settings"
	"gorm.io/gorm"
)

// SettingHandler exposes the runtime toggles that override config.yaml.
type SettingHandler struct {
	db *gorm.DB
}

// NewSettingHandler constructs a settings handler.
func NewSettingHandler(db *gorm.DB) *SettingHandler {
	return &SettingHandler{db: db}
}

type settingView struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Set       bool            `json:"set"`
	UpdatedAt any             `json:"updated_at,omitempty"`
}

// List reports every known setting key. Keys without a stored row are listed
// with a null value so admins can see what is tunable.
func (h *SettingHandler) List(c *gin.Context) {
	var rows []models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list settings failed"})
		return
	}
	stored := make(map[string]models.Setting, len(rows))
	for _, row := range rows {
		stored[row.Key] = row
	}
	views := make([]settingView, 0, len(stored))
	for _, key := range internalsettings.KnownKeys() {
		view := settingView{Key: key, Value: json.RawMessage("null")}
		if row, ok := stored[key]; ok {
			view.Value = json.RawMessage(row.Value)
			view.Set = true
			view.UpdatedAt = row.UpdatedAt
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"settings": views, "updated_at": internalsettings.UpdatedAt()})
}

// Update stores a new value for a setting key.
func (h *SettingHandler) Update(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	errPut := internalsettings.Put(c.Request.Context(), h.db, key, body.Value)
	switch {
	case errPut == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(errPut, internalsettings.ErrUnknownKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown setting key: " + key})
	case internalsettings.Validate(key, body.Value) != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": errPut.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update setting failed"})
	}
}

// Delete clears a stored setting so the config default applies again.
func (h *SettingHandler) Delete(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	existed, errDelete := internalsettings.Delete(c.Request.Context(), h.db, key)
	if errors.Is(errDelete, internalsettings.ErrUnknownKey) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown setting key: " + key})
		return
	}
	if errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete setting failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "existed": existed})
}
