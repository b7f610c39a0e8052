package drift

import (
	"bytes"
	"context"
	"fmt"

	"drift-go/internal/canonical"
	"drift-go/internal/metrics"
)

// Archiver exports snapshot payloads to a vault, encrypted. Payloads are
// stored under their content hash, so snapshots with identical content
// share one archived object.
type Archiver struct {
	store     Store
	vault     Vault
	encryptor Encryptor
	logger    Logger
	clock     Clock
}

func NewArchiver(store Store, vault Vault, encryptor Encryptor, logger Logger, clock Clock) *Archiver {
	return &Archiver{
		store:     store,
		vault:     vault,
		encryptor: encryptor,
		logger:    logger,
		clock:     clock,
	}
}

// ArchivePending archives up to limit snapshots that have not been exported
// yet, oldest first, and returns how many were marked archived.
func (a *Archiver) ArchivePending(ctx context.Context, limit int) (int, error) {
	snapshots, err := a.store.ListUnarchivedSnapshots(ctx, limit)
	if err != nil {
		return 0, &StorageError{Op: "list unarchived snapshots", Err: err}
	}

	archived := 0
	for _, s := range snapshots {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		if err := a.archiveOne(ctx, s); err != nil {
			return archived, fmt.Errorf("archiving snapshot %s: %w", s.ID, err)
		}
		archived++
	}
	return archived, nil
}

func (a *Archiver) archiveOne(ctx context.Context, s *Snapshot) error {
	exists, err := a.vault.HasContent(ctx, s.ContentHash)
	if err != nil {
		return fmt.Errorf("checking vault: %w", err)
	}

	if !exists {
		body, err := canonical.Marshal(s.Data)
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}
		var sealed bytes.Buffer
		if err := a.encryptor.Encrypt(bytes.NewReader(body), &sealed); err != nil {
			return fmt.Errorf("encrypting payload: %w", err)
		}
		if err := a.vault.PutContent(ctx, s.ContentHash, &sealed, int64(sealed.Len())); err != nil {
			return fmt.Errorf("storing payload: %w", err)
		}
	}

	if err := a.store.MarkSnapshotArchived(ctx, s.ID, a.clock.Now().UTC()); err != nil {
		return &StorageError{Op: "mark snapshot archived", Err: err}
	}
	metrics.ArchivedSnapshots.Inc()
	a.logger.Info("snapshot archived", "snapshot", s.ID, "hash", s.ContentHash, "uploaded", !exists)
	return nil
}

// Restore fetches and decrypts an archived payload and verifies it against
// its content hash.
func (a *Archiver) Restore(ctx context.Context, contentHash, passphrase string) (map[string]any, error) {
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}

	var sealed bytes.Buffer
	if err := a.vault.GetContent(ctx, contentHash, &sealed); err != nil {
		return nil, fmt.Errorf("reading from vault: %w", err)
	}

	var plain bytes.Buffer
	if err := dc.Decrypt(&sealed, &plain); err != nil {
		return nil, fmt.Errorf("decrypting payload: %w", err)
	}

	if got := canonical.HashBytes(plain.Bytes()); got != contentHash {
		return nil, fmt.Errorf("archived payload hash mismatch: expected %s, got %s", contentHash, got)
	}

	doc, err := canonical.Decode(plain.Bytes())
	if err != nil {
		return nil, err
	}
	data, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("archived payload is not a JSON object")
	}
	return data, nil
}
