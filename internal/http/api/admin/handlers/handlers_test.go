package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/router-for-me/GeminiDrawer/internal/config"
	"github.com/router-for-me/GeminiDrawer/internal/security"
)

func TestSplitKeys(t *testing.T) {
	got := SplitKeys(" a1, b2；c3\n d4 ;e5，\tf6 ")
	want := []string{"a1", "b2", "c3", "d4", "e5", "f6"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("SplitKeys = %v", got)
	}
}

func TestLogin_RequiresTOTPWhenConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hash, errHash := security.HashPassword("pw")
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	secret, _, errSecret := security.GenerateTOTPSecret("root")
	if errSecret != nil {
		t.Fatalf("secret: %v", errSecret)
	}
	now := time.Now()
	handler := NewAuthHandler(
		config.AdminConfig{Username: "root", PasswordHash: hash, TOTPSecret: secret},
		config.JWTConfig{Secret: "s", Expiry: time.Hour},
	)
	handler.now = func() time.Time { return now }
	engine := gin.New()
	engine.POST("/login", handler.Login)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		return rec
	}

	if rec := post(`{"username":"root","password":"pw"}`); rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "mfa_required") {
		t.Fatalf("missing totp: %d %s", rec.Code, rec.Body.String())
	}
	if rec := post(`{"username":"root","password":"pw","totp":"000000x"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad totp: %d", rec.Code)
	}
	code, errCode := totp.GenerateCode(secret, now)
	if errCode != nil {
		t.Fatalf("code: %v", errCode)
	}
	if rec := post(`{"username":"root","password":"pw","totp":"` + code + `"}`); rec.Code != http.StatusOK {
		t.Fatalf("valid totp: %d %s", rec.Code, rec.Body.String())
	}
}

func TestLogin_NotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.POST("/login", NewAuthHandler(config.AdminConfig{}, config.JWTConfig{}).Login)
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
