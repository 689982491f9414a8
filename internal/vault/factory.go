package vault

import (
	"context"
	"fmt"
	"os"

	"loft-go/internal/config"
	"loft-go/internal/loft"
)

// NewVaultFromConfig creates a Vault implementation based on the vault config
// type. It returns nil, nil when offsite copies are disabled.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig) (loft.Vault, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "memory":
		return NewMemoryVault(cfg.Name), nil
	case "s3":
		return NewS3Vault(ctx, cfg.Name, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     os.Getenv("LOFT_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("LOFT_S3_SECRET_ACCESS_KEY"),
			UsePathStyle:    cfg.S3UsePathStyle,
		})
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		return NewFileSystemVault(cfg.Name, cfg.FSVaultRoot)
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
