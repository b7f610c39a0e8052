package vault

import (
	"context"
	"fmt"
	"os"

	"drift-go/internal/config"
	"drift-go/internal/drift"
)

// NewVaultFromConfig creates a Vault implementation based on the vault config type.
// S3 credentials come from DRIFT_S3_ACCESS_KEY_ID / DRIFT_S3_SECRET_ACCESS_KEY
// when set, otherwise from the default AWS chain.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig) (drift.Vault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(cfg.Name), nil
	case "s3":
		v, err := NewS3Vault(ctx, cfg.Name, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			PathStyle:       cfg.S3PathStyle,
			AccessKeyID:     os.Getenv("DRIFT_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("DRIFT_S3_SECRET_ACCESS_KEY"),
		})
		if err != nil {
			return nil, err
		}
		return v, nil
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		v, err := NewFileSystemVault(cfg.Name, cfg.FSVaultRoot)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
