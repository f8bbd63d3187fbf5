package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GeminiDrawer/internal/channels"
	"github.com/router-for-me/GeminiDrawer/internal/config"
	handlers "github.com/router-for-me/GeminiDrawer/internal/http/api/admin/handlers"
	"github.com/router-for-me/GeminiDrawer/internal/keystore"
	"github.com/router-for-me/GeminiDrawer/internal/prompts"
	"github.com/router-for-me/GeminiDrawer/internal/security"
	"github.com/router-for-me/GeminiDrawer/internal/usage"
	"gorm.io/gorm"
)

// Deps carries the stores the admin API operates on.
type Deps struct {
	DB       *gorm.DB
	Config   *config.Config
	Keys     *keystore.Store
	Channels *channels.Registry
	Prompts  *prompts.Store
	Recorder *usage.Recorder
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil || deps.Config == nil {
		return
	}
	cfg := deps.Config

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(cfg.Admin, cfg.JWT)
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(cfg.Admin, cfg.JWT))

	keyHandler := handlers.NewKeyHandler(deps.Keys, deps.Channels)
	authed.POST("/keys", keyHandler.Create)
	authed.GET("/keys", keyHandler.List)
	authed.POST("/keys/reset", keyHandler.Reset)
	authed.PUT("/keys/:channel/:index/max-errors", keyHandler.SetMaxErrors)
	authed.DELETE("/keys/:channel/:index", keyHandler.Delete)

	channelHandler := handlers.NewChannelHandler(deps.DB, cfg, deps.Channels, deps.Keys)
	authed.POST("/channels", channelHandler.Create)
	authed.GET("/channels", channelHandler.List)
	authed.PUT("/channels/:name/model", channelHandler.UpdateModel)
	authed.DELETE("/channels/:name", channelHandler.Delete)
	authed.POST("/channels/:name/enable", channelHandler.Enable)
	authed.POST("/channels/:name/disable", channelHandler.Disable)
	authed.PUT("/channels/:name/stream", channelHandler.SetStream)
	authed.PUT("/channels/:name/video", channelHandler.SetVideo)

	promptHandler := handlers.NewPromptHandler(deps.Prompts)
	authed.POST("/prompts", promptHandler.Create)
	authed.GET("/prompts", promptHandler.List)
	authed.GET("/prompts/:name", promptHandler.Get)
	authed.DELETE("/prompts/:name", promptHandler.Delete)

	settingHandler := handlers.NewSettingHandler(deps.DB)
	authed.GET("/settings", settingHandler.List)
	authed.PUT("/settings/:key", settingHandler.Update)
	authed.DELETE("/settings/:key", settingHandler.Delete)

	generationHandler := handlers.NewGenerationHandler(deps.Recorder)
	authed.GET("/generations", generationHandler.List)
}

// adminAuthMiddleware validates admin JWTs.
func adminAuthMiddleware(adminCfg config.AdminConfig, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Username != strings.TrimSpace(adminCfg.Username) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin not found"})
			return
		}

		c.Set("adminUsername", claims.Username)
		c.Next()
	}
}
