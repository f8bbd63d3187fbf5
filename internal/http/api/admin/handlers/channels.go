package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GeminiDrawer/internal/channels"
	"github.com/router-for-me/GeminiDrawer/internal/config"
	"github.com/router-for-me/GeminiDrawer/internal/keystore"
	"github.com/router-for-me/GeminiDrawer/internal/media"
	"github.com/router-for-me/GeminiDrawer/internal/models"
	internalsettings "github.com/router-for-me/GeminiDrawer/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ChannelHandler manages custom channels and the built-in google and relay toggles.
type ChannelHandler struct {
	db       *gorm.DB
	cfg      *config.Config
	channels *channels.Registry
	keys     *keystore.Store
}

// NewChannelHandler constructs a ChannelHandler.
func NewChannelHandler(db *gorm.DB, cfg *config.Config, registry *channels.Registry, keys *keystore.Store) *ChannelHandler {
	return &ChannelHandler{db: db, cfg: cfg, channels: registry, keys: keys}
}

// createChannelRequest accepts either a name:url[:model] definition or explicit fields.
type createChannelRequest struct {
	Definition string `json:"definition"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	Model      string `json:"model"`
	Stream     bool   `json:"stream"`
	Video      bool   `json:"video"`
}

// Create adds a custom channel.
func (h *ChannelHandler) Create(c *gin.Context) {
	var body createChannelRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	var ch models.Channel
	if def := strings.TrimSpace(body.Definition); def != "" {
		parsed, errParse := channels.ParseDefinition(def)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errParse.Error()})
			return
		}
		ch = parsed
	} else {
		ch = models.Channel{Name: body.Name, URL: body.URL, Model: body.Model, Enabled: true}
		if strings.TrimSpace(ch.URL) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
			return
		}
	}
	ch.Stream = ch.Stream || body.Stream
	ch.IsVideo = ch.IsVideo || body.Video

	created, errCreate := h.channels.Create(c.Request.Context(), ch)
	if errCreate != nil {
		switch {
		case errors.Is(errCreate, channels.ErrInvalidName):
			c.JSON(http.StatusBadRequest, gin.H{"error": errCreate.Error()})
		case errors.Is(errCreate, channels.ErrExists):
			c.JSON(http.StatusConflict, gin.H{"error": "channel already exists"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create channel failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, formatChannel(created, keyCounts{}))
}

type keyCounts struct {
	total  int
	active int
}

// List returns the google and relay pseudo-channels followed by custom channels.
func (h *ChannelHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	rows, errList := h.channels.List(ctx)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list channels failed"})
		return
	}
	counts := make(map[string]keyCounts)
	if keys, errKeys := h.keys.List(ctx); errKeys != nil {
		log.WithError(errKeys).Warn("admin: list keys for channel counts failed")
	} else {
		for _, key := range keys {
			channelType := keystore.EffectiveType(key)
			entry := counts[channelType]
			entry.total++
			if key.IsActive() {
				entry.active++
			}
			counts[channelType] = entry
		}
	}

	out := make([]gin.H, 0, len(rows)+2)
	google := counts[keystore.TypeGoogle]
	out = append(out, gin.H{
		"name":        keystore.TypeGoogle,
		"url":         h.cfg.Google.URL,
		"enabled":     internalsettings.GoogleEnabled(h.cfg),
		"builtin":     true,
		"keys":        google.total,
		"active_keys": google.active,
	})
	out = append(out, gin.H{
		"name":    "relay",
		"url":     h.cfg.Relay.URL,
		"model":   h.cfg.Relay.Model,
		"enabled": internalsettings.RelayEnabled(h.cfg),
		"builtin": true,
		"stream":  true,
	})
	for i := range rows {
		out = append(out, formatChannel(&rows[i], counts[rows[i].Name]))
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

// modelRequest captures a model update.
type modelRequest struct {
	Model string `json:"model"`
}

// UpdateModel sets the channel model, rewriting Gemini URLs in place.
func (h *ChannelHandler) UpdateModel(c *gin.Context) {
	var body modelRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || strings.TrimSpace(body.Model) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}
	updated, errUpdate := h.channels.UpdateModel(c.Request.Context(), c.Param("name"), body.Model)
	h.respondChannel(c, updated, errUpdate)
}

// Delete removes a custom channel.
func (h *ChannelHandler) Delete(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	if channels.IsReserved(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "built-in channels cannot be deleted"})
		return
	}
	deleted, errDelete := h.channels.Delete(c.Request.Context(), name)
	if errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete channel failed"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Enable turns a channel on. Built-in names flip runtime settings.
func (h *ChannelHandler) Enable(c *gin.Context) { h.setEnabled(c, true) }

// Disable turns a channel off. Built-in names flip runtime settings.
func (h *ChannelHandler) Disable(c *gin.Context) { h.setEnabled(c, false) }

func (h *ChannelHandler) setEnabled(c *gin.Context, enabled bool) {
	name := strings.TrimSpace(c.Param("name"))
	settingKey := ""
	switch strings.ToLower(name) {
	case keystore.TypeGoogle:
		settingKey = internalsettings.EnableGoogleKey
	case "relay", "lmarena":
		settingKey = internalsettings.EnableRelayKey
	}
	if settingKey != "" {
		if errPut := internalsettings.PutBool(c.Request.Context(), h.db, settingKey, enabled); errPut != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update setting failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": name, "enabled": enabled, "builtin": true})
		return
	}
	updated, errUpdate := h.channels.SetEnabled(c.Request.Context(), name, enabled)
	h.respondChannel(c, updated, errUpdate)
}

// flagRequest carries a loosely typed boolean such as true, "1" or "开启".
type flagRequest struct {
	Stream json.RawMessage `json:"stream"`
	Video  json.RawMessage `json:"video"`
}

// SetStream toggles SSE requests for a channel.
func (h *ChannelHandler) SetStream(c *gin.Context) {
	var body flagRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || len(body.Stream) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stream is required"})
		return
	}
	updated, errUpdate := h.channels.SetStream(c.Request.Context(), c.Param("name"), parseFlag(body.Stream))
	h.respondChannel(c, updated, errUpdate)
}

// SetVideo marks a channel as a video channel.
func (h *ChannelHandler) SetVideo(c *gin.Context) {
	var body flagRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || len(body.Video) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "video is required"})
		return
	}
	updated, errUpdate := h.channels.SetVideo(c.Request.Context(), c.Param("name"), parseFlag(body.Video))
	h.respondChannel(c, updated, errUpdate)
}

// parseFlag treats anything that is not an affirmative as false.
func parseFlag(raw json.RawMessage) bool {
	if text, ok := internalsettings.ParseString(raw); ok {
		return internalsettings.IsTruthy(text)
	}
	value, ok := internalsettings.ParseBool(raw)
	return ok && value
}

func (h *ChannelHandler) respondChannel(c *gin.Context, ch *models.Channel, err error) {
	if err != nil {
		if errors.Is(err, channels.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update channel failed"})
		return
	}
	c.JSON(http.StatusOK, formatChannel(ch, keyCounts{}))
}

func formatChannel(ch *models.Channel, counts keyCounts) gin.H {
	out := gin.H{
		"name":        ch.Name,
		"url":         ch.URL,
		"model":       ch.Model,
		"enabled":     ch.Enabled,
		"stream":      ch.Stream,
		"video":       ch.IsVideo,
		"builtin":     false,
		"keys":        counts.total,
		"active_keys": counts.active,
	}
	if ch.Key != "" {
		out["inline_key"] = media.Mask(ch.Key)
	}
	return out
}
