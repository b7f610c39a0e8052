package drift

import (
	"context"
	"io"
)

// Vault stores archived snapshot payloads. Content is addressed by the
// snapshot content hash, so identical payloads are stored once.
type Vault interface {
	// PutContent stores content under hash. Storing the same hash again is a no-op.
	// size is the number of bytes that will be read from r.
	PutContent(ctx context.Context, hash string, r io.Reader, size int64) error

	// GetContent retrieves content by hash and writes it to w.
	GetContent(ctx context.Context, hash string, w io.Writer) error

	// HasContent reports whether content for hash is stored.
	HasContent(ctx context.Context, hash string) (bool, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}
