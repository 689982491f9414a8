package loft

import "io"

// Encryptor seals backup copies before they leave the machine. Sealing needs
// only the public key; opening requires unlocking the private key with a
// passphrase, which yields a DecryptionContext for the session.
type Encryptor interface {
	// Setup generates the key pair and protects the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key. Returns an error for a wrong passphrase.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether the key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// Inspector performs a deep, read-only check of database bytes.
type Inspector interface {
	Inspect(data []byte) (*DatabaseReport, error)
}

// DatabaseReport is the result of a deep database inspection.
type DatabaseReport struct {
	IntegrityOK   bool
	Integrity     string // first line of PRAGMA integrity_check
	SchemaVersion uint
	SchemaDirty   bool
	SeedRecords   int
	PageCount     int64
	PageSize      int64
}
