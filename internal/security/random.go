package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateRandomString returns a hex string built from n random bytes.
func GenerateRandomString(n int) (string, error) {
	if n <= 0 {
		n = 32
	}
	buf := make([]byte, n)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", fmt.Errorf("security: read random bytes: %w", errRead)
	}
	return hex.EncodeToString(buf), nil
}
