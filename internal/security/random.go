package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// RandomString returns a hex string built from n random bytes.
func RandomString(n int) (string, error) {
	if n <= 0 {
		n = 32
	}
	buf := make([]byte, n)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", fmt.Errorf("security: read random: %w", errRead)
	}
	return hex.EncodeToString(buf), nil
}
