package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

// GenerateTOTPSecret creates a new TOTP secret and its otpauth:// URL.
func GenerateTOTPSecret(accountName string) (secret, url string, err error) {
	key, errGenerate := totp.Generate(totp.GenerateOpts{
		Issuer:      "GeminiDrawer",
		AccountName: accountName,
	})
	if errGenerate != nil {
		return "", "", fmt.Errorf("security: generate totp: %w", errGenerate)
	}
	return key.Secret(), key.URL(), nil
}

// ValidateTOTP checks code against secret at the given time with one step of skew.
func ValidateTOTP(secret, code string, now time.Time) bool {
	secret = strings.TrimSpace(secret)
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}
	ok, errValidate := totp.ValidateCustom(code, secret, now.UTC(), totp.ValidateOpts{
		Period: 30,
		Skew:   1,
		Digits: 6,
	})
	return errValidate == nil && ok
}
