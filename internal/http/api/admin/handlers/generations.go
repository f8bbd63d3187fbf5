package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GeminiDrawer/internal/usage"
)

// GenerationHandler lists recorded draw and video requests.
type GenerationHandler struct {
	recorder *usage.Recorder
}

// NewGenerationHandler constructs a GenerationHandler.
func NewGenerationHandler(recorder *usage.Recorder) *GenerationHandler {
	return &GenerationHandler{recorder: recorder}
}

// List returns recent generations filtered by limit, success, kind and user_id.
func (h *GenerationHandler) List(c *gin.Context) {
	filter := usage.Filter{
		Kind:   strings.TrimSpace(c.Query("kind")),
		UserID: strings.TrimSpace(c.Query("user_id")),
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, errParse := strconv.Atoi(raw)
		if errParse != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}
	if raw := strings.TrimSpace(c.Query("success")); raw != "" {
		success, errParse := strconv.ParseBool(raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid success filter"})
			return
		}
		filter.Success = &success
	}

	ctx := c.Request.Context()
	rows, errList := h.recorder.List(ctx, filter)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list generations failed"})
		return
	}
	summary, errSummary := h.recorder.Summarize(ctx)
	if errSummary != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summarize generations failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"generations": rows, "summary": summary})
}
