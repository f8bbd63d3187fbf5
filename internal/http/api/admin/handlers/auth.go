package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GeminiDrawer/internal/config"
	"github.com/router-for-me/GeminiDrawer/internal/security"
	log "github.com/sirupsen/logrus"
)

// AuthHandler issues admin tokens.
type AuthHandler struct {
	admin config.AdminConfig
	jwt   config.JWTConfig
	now   func() time.Time
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(admin config.AdminConfig, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{admin: admin, jwt: jwtCfg, now: time.Now}
}

// loginRequest captures the login payload.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     string `json:"totp"`
}

// Login verifies the configured admin credentials and returns a JWT.
func (h *AuthHandler) Login(c *gin.Context) {
	if strings.TrimSpace(h.admin.Username) == "" || strings.TrimSpace(h.admin.PasswordHash) == "" || strings.TrimSpace(h.jwt.Secret) == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin login not configured"})
		return
	}
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(strings.TrimSpace(h.admin.Username))) == 1
	passOK := security.CheckPassword(h.admin.PasswordHash, body.Password)
	if !userOK || !passOK {
		log.WithField("username", username).Warn("admin: login rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	now := h.now()
	if strings.TrimSpace(h.admin.TOTPSecret) != "" {
		if strings.TrimSpace(body.TOTP) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "totp code required", "mfa_required": true})
			return
		}
		if !security.ValidateTOTP(h.admin.TOTPSecret, body.TOTP, now) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid totp code"})
			return
		}
	}

	token, errToken := security.GenerateAdminToken(h.jwt.Secret, username, h.jwt.Expiry, now)
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": now.Add(h.jwt.Expiry).UTC(),
	})
}
