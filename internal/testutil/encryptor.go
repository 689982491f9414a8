package testutil

import (
	"loft-go/internal/encryption"
	"loft-go/internal/loft"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() loft.Encryptor {
	return encryption.NewTestEncryptor()
}
