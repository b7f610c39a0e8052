package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash returns the hex-encoded SHA-256 digest of the canonical form of v.
// Documents that differ only in key order or formatting hash identically.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hashing document: %w", err)
	}
	return HashBytes(b), nil
}

// HashBytes returns the hex-encoded SHA-256 digest of already canonical bytes.
func HashBytes(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
