package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GeminiDrawer/internal/channels"
	"github.com/router-for-me/GeminiDrawer/internal/keystore"
	"github.com/router-for-me/GeminiDrawer/internal/media"
	"github.com/router-for-me/GeminiDrawer/internal/models"
)

// KeyHandler manages vendor API keys.
type KeyHandler struct {
	keys     *keystore.Store
	channels *channels.Registry
}

// NewKeyHandler constructs a KeyHandler.
func NewKeyHandler(keys *keystore.Store, registry *channels.Registry) *KeyHandler {
	return &KeyHandler{keys: keys, channels: registry}
}

// addKeysRequest captures the add payload. Keys and Text may be combined.
type addKeysRequest struct {
	Channel string   `json:"channel"`
	Keys    []string `json:"keys"`
	Text    string   `json:"text"`
}

// SplitKeys splits pasted key text on whitespace, commas and semicolons,
// including their full-width forms.
func SplitKeys(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ',', ';', '，', '；':
			return true
		}
		return unicode.IsSpace(r)
	})
}

// Create adds keys to a channel.
func (h *KeyHandler) Create(c *gin.Context) {
	var body addKeysRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	channel := strings.TrimSpace(body.Channel)
	if channel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel is required"})
		return
	}
	ctx := c.Request.Context()
	if channel != keystore.TypeGoogle {
		if _, errGet := h.channels.Get(ctx, channel); errGet != nil {
			if errors.Is(errGet, channels.ErrNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel: " + channel})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query channel failed"})
			return
		}
	}
	values := append(append([]string{}, body.Keys...), SplitKeys(body.Text)...)
	if len(values) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no keys given"})
		return
	}
	added, duplicates, errAdd := h.keys.AddKeys(ctx, values, channel)
	if errAdd != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add keys failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": added, "duplicates": duplicates})
}

// keyGroup lists the keys of one channel type.
type keyGroup struct {
	Channel string  `json:"channel"`
	Active  int     `json:"active"`
	Keys    []gin.H `json:"keys"`
}

// List returns masked keys grouped by channel type.
func (h *KeyHandler) List(c *gin.Context) {
	groups, errGroups := h.groups(c.Request.Context())
	if errGroups != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list keys failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *KeyHandler) groups(ctx context.Context) ([]keyGroup, error) {
	rows, errList := h.keys.List(ctx)
	if errList != nil {
		return nil, errList
	}
	byType := make(map[string]*keyGroup)
	for _, row := range rows {
		channelType := keystore.EffectiveType(row)
		group, ok := byType[channelType]
		if !ok {
			group = &keyGroup{Channel: channelType, Keys: []gin.H{}}
			byType[channelType] = group
		}
		if row.IsActive() {
			group.Active++
		}
		group.Keys = append(group.Keys, formatKey(len(group.Keys)+1, row))
	}
	out := make([]keyGroup, 0, len(byType))
	for _, group := range byType {
		out = append(out, *group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

func formatKey(index int, row models.APIKey) gin.H {
	var maxErrors any = row.MaxErrors
	if row.MaxErrors == models.NeverDisable {
		maxErrors = "never"
	}
	return gin.H{
		"index":        index,
		"key":          media.Mask(row.Value),
		"status":       row.Status,
		"error_count":  row.ErrorCount,
		"max_errors":   maxErrors,
		"last_used_at": row.LastUsedAt,
	}
}

// resetKeysRequest captures the reset payload. Index needs Channel.
type resetKeysRequest struct {
	Channel string `json:"channel"`
	Index   int    `json:"index"`
}

// Reset reactivates disabled keys, optionally one key by index.
func (h *KeyHandler) Reset(c *gin.Context) {
	var body resetKeysRequest
	if c.Request.ContentLength != 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	channel := strings.TrimSpace(body.Channel)
	ctx := c.Request.Context()
	if body.Index != 0 {
		if channel == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "channel is required with index"})
			return
		}
		ok, errReset := h.keys.ResetOne(ctx, channel, body.Index)
		if errReset != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reset key failed"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reset": 1})
		return
	}
	count, errReset := h.keys.ResetAll(ctx, channel)
	if errReset != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset keys failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": count})
}

// maxErrorsRequest captures the error limit payload.
type maxErrorsRequest struct {
	Limit *int `json:"limit"`
}

// SetMaxErrors changes the error limit of one key.
func (h *KeyHandler) SetMaxErrors(c *gin.Context) {
	channel, index, ok := keyPath(c)
	if !ok {
		return
	}
	var body maxErrorsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.Limit == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit is required"})
		return
	}
	found, errSet := h.keys.SetMaxErrors(c.Request.Context(), channel, index, *body.Limit)
	if errSet != nil {
		if errors.Is(errSet, keystore.ErrInvalidLimit) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be -1 or a non-negative integer"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update key failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes one key by channel and index.
func (h *KeyHandler) Delete(c *gin.Context) {
	channel, index, ok := keyPath(c)
	if !ok {
		return
	}
	found, errDelete := h.keys.DeleteOne(c.Request.Context(), channel, index)
	if errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete key failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func keyPath(c *gin.Context) (string, int, bool) {
	channel := strings.TrimSpace(c.Param("channel"))
	index, errParse := strconv.Atoi(strings.TrimSpace(c.Param("index")))
	if channel == "" || errParse != nil || index < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel or index"})
		return "", 0, false
	}
	return channel, index, true
}
