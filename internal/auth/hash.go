package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken returns the lowercase hex SHA-256 digest of the raw token.
// Only the digest is ever persisted: issuance (before transmission) and
// consumption (for comparison) are the two places the plaintext exists.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
