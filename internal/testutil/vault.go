package testutil

import (
	"loft-go/internal/loft"
	"loft-go/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() loft.Vault {
	return vault.NewMemoryVault("test-vault")
}
