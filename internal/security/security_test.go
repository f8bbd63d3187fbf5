package security

import (
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, errHash := HashPassword("s3cret")
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	if !CheckPassword(hash, "s3cret") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hash, "wrong") || CheckPassword("", "s3cret") {
		t.Fatalf("unexpected match")
	}
	if _, errEmpty := HashPassword(""); !errors.Is(errEmpty, ErrEmptyPassword) {
		t.Fatalf("empty password err = %v", errEmpty)
	}
}

func TestAdminToken(t *testing.T) {
	now := time.Now()
	token, errGen := GenerateAdminToken("secret", "root", time.Hour, now)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	claims, errParse := ParseAdminToken("secret", token)
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if claims.Username != "root" {
		t.Fatalf("username = %q", claims.Username)
	}
	if _, errParse := ParseAdminToken("other", token); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("wrong secret err = %v", errParse)
	}

	expired, errGen := GenerateAdminToken("secret", "root", time.Minute, now.Add(-time.Hour))
	if errGen != nil {
		t.Fatalf("generate expired: %v", errGen)
	}
	if _, errParse := ParseAdminToken("secret", expired); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("expired err = %v", errParse)
	}
	if _, errGen := GenerateAdminToken(" ", "root", time.Hour, now); !errors.Is(errGen, ErrMissingSecret) {
		t.Fatalf("missing secret err = %v", errGen)
	}
}

func TestValidateTOTP(t *testing.T) {
	secret, url, errGen := GenerateTOTPSecret("admin")
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	if secret == "" || url == "" {
		t.Fatalf("secret=%q url=%q", secret, url)
	}
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	code, errCode := totp.GenerateCode(secret, now)
	if errCode != nil {
		t.Fatalf("code: %v", errCode)
	}
	if !ValidateTOTP(secret, code, now) {
		t.Fatalf("expected code to validate")
	}
	if ValidateTOTP(secret, code, now.Add(10*time.Minute)) {
		t.Fatalf("stale code validated")
	}
	if ValidateTOTP("", code, now) {
		t.Fatalf("empty secret validated")
	}
}

func TestGenerateRandomString(t *testing.T) {
	first, err := GenerateRandomString(16)
	if err != nil {
		t.Fatalf("GenerateRandomString: %v", err)
	}
	if len(first) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(first))
	}
	second, err := GenerateRandomString(16)
	if err != nil {
		t.Fatalf("GenerateRandomString: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct secrets")
	}
}
