package account

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashAPIKeySecret hashes a raw API key secret for storage and lookup.
// Secrets are high-entropy random strings, so a plain SHA-256 index is
// sufficient; this is not password hashing.
func HashAPIKeySecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
