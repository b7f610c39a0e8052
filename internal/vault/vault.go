// Package vault provides the archive backends that hold encrypted snapshot
// payloads: in memory, on the local filesystem and in S3 (or an
// S3-compatible object store). Every backend is content addressed by the
// snapshot content hash.
package vault

import (
	"encoding/hex"
	"fmt"

	"drift-go/internal/drift"
)

// checkHash rejects keys that are not a lowercase hex SHA-256 digest, so
// a hash can be used as a file name or object key unescaped.
func checkHash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("invalid content hash %q: want 64 hex characters", hash)
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("invalid content hash %q: %w", hash, err)
	}
	for _, c := range hash {
		if c >= 'A' && c <= 'F' {
			return fmt.Errorf("invalid content hash %q: must be lowercase", hash)
		}
	}
	return nil
}

func contentNotFound(hash string) error {
	return &drift.NotFoundError{Kind: "archived content", ID: hash}
}
