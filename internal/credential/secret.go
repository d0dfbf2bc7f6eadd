package credential

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const secretEntropyBytes = 32

// GenerateSecret produces a CSPRNG secret of at least secretEntropyBytes,
// hex-encoded for transport. Surfaced to the caller exactly once.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("credential: generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashSecret computes HMAC-SHA256(signingKey, secret), hex-encoded, for
// persistence. The plaintext secret is never stored.
func HashSecret(signingKey, secret string) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}
