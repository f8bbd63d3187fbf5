package front

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GeminiDrawer/internal/config"
	"github.com/router-for-me/GeminiDrawer/internal/host"
	handlers "github.com/router-for-me/GeminiDrawer/internal/http/api/front/handlers"
)

// Deps carries the services behind the draw API.
type Deps struct {
	Config    *config.Config
	Generator handlers.Generator
	Presets   handlers.PresetSource
	Limiter   handlers.Limiter
	Recorder  handlers.Recorder
	Sender    host.Sender
	Fetcher   host.Fetcher
}

// RegisterFrontRoutes registers the draw and video endpoints.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Config == nil || deps.Generator == nil || deps.Presets == nil {
		return
	}

	v1 := r.Group("/v1")
	v1.Use(apiTokenMiddleware(deps.Config.API.Token))

	drawHandler := handlers.NewDrawHandler(deps.Config, deps.Generator, deps.Presets, deps.Limiter, deps.Recorder, deps.Sender, deps.Fetcher)
	v1.POST("/draw", drawHandler.Draw)
	v1.POST("/draw/presets/:name", drawHandler.DrawPreset)
	v1.POST("/draw/random", drawHandler.DrawRandom)
	v1.POST("/draw/multi", drawHandler.DrawMulti)
	v1.POST("/video", drawHandler.Video)
	v1.POST("/selfie", drawHandler.Selfie)
	v1.GET("/presets", drawHandler.Presets)
}

// apiTokenMiddleware requires the configured bearer token. An empty token leaves the API open.
func apiTokenMiddleware(token string) gin.HandlerFunc {
	token = strings.TrimSpace(token)
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		authHeader := c.GetHeader("Authorization")
		provided := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if authHeader == "" || provided == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
