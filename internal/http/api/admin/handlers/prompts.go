package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GeminiDrawer/internal/models"
	"github.com/router-for-me/GeminiDrawer/internal/prompts"
)

// PromptHandler manages prompt presets.
type PromptHandler struct {
	prompts *prompts.Store
}

// NewPromptHandler constructs a PromptHandler.
func NewPromptHandler(store *prompts.Store) *PromptHandler {
	return &PromptHandler{prompts: store}
}

// createPromptRequest accepts "name:text" or explicit fields.
type createPromptRequest struct {
	Definition string `json:"definition"`
	Name       string `json:"name"`
	Text       string `json:"text"`
}

// Create adds a preset.
func (h *PromptHandler) Create(c *gin.Context) {
	var body createPromptRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name, text := body.Name, body.Text
	if def := strings.TrimSpace(body.Definition); def != "" {
		parsedName, parsedText, errParse := prompts.ParseDefinition(def)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errParse.Error()})
			return
		}
		name, text = parsedName, parsedText
	}
	preset, errAdd := h.prompts.Add(c.Request.Context(), name, text)
	if errAdd != nil {
		switch {
		case errors.Is(errAdd, prompts.ErrPresetExists):
			c.JSON(http.StatusConflict, gin.H{"error": "preset already exists"})
		case errors.Is(errAdd, prompts.ErrMalformedDefinition):
			c.JSON(http.StatusBadRequest, gin.H{"error": "name and text are required"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create preset failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, formatPrompt(preset))
}

// List returns presets, filtered by the optional q search term.
func (h *PromptHandler) List(c *gin.Context) {
	rows, errList := h.prompts.Search(c.Request.Context(), c.Query("q"))
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list presets failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatPrompt(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"prompts": out})
}

// Get returns one preset.
func (h *PromptHandler) Get(c *gin.Context) {
	preset, errGet := h.prompts.Get(c.Request.Context(), c.Param("name"))
	if errGet != nil {
		if errors.Is(errGet, prompts.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "preset not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query preset failed"})
		return
	}
	c.JSON(http.StatusOK, formatPrompt(preset))
}

// Delete removes one preset.
func (h *PromptHandler) Delete(c *gin.Context) {
	deleted, errDelete := h.prompts.Delete(c.Request.Context(), c.Param("name"))
	if errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete preset failed"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "preset not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func formatPrompt(p *models.PromptPreset) gin.H {
	return gin.H{"name": p.Name, "text": p.Text, "updated_at": p.UpdatedAt}
}
