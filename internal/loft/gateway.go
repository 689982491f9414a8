package loft

import "context"

// OpenedWorkspace is what a gateway returns for a successfully read workspace.
type OpenedWorkspace struct {
	Metadata     []byte // raw workspace.json
	Database     []byte
	DatabasePath string
	MetadataPath string
	BackupsDir   string
}

// Gateway is the only component that touches the host filesystem (or whatever
// stores the workspace). Failures are tagged with an ErrorKind where the gateway
// knows it: missing files as KindWorkspaceMissing, a busy workspace as
// KindLockContention. Untagged errors are treated as structural unless they
// look like lock errors (see IsLockError).
type Gateway interface {
	// SetupWorkspace creates the root and backups directory if absent and seeds
	// the database and metadata files that do not exist yet. It never
	// overwrites an existing database.
	SetupWorkspace(ctx context.Context, path string) error

	// OpenWorkspace reads the metadata and database files.
	OpenWorkspace(ctx context.Context, path string) (*OpenedWorkspace, error)

	// SaveWorkspace atomically replaces the database file and refreshes the
	// metadata's updatedAt. Either the whole file is replaced or the previous
	// file is left intact.
	SaveWorkspace(ctx context.Context, path string, data []byte) error

	// CreateBackup snapshots the current database into the backups directory
	// under a timestamp-derived name and returns that name. Existing backups
	// are never modified.
	CreateBackup(ctx context.Context, path string) (string, error)

	// ListBackups returns the names of all backups, in no particular order.
	ListBackups(ctx context.Context, path string) ([]string, error)

	// RestoreBackup returns the bytes of the named backup.
	RestoreBackup(ctx context.Context, path string, name string) ([]byte, error)

	// ResetWorkspace removes the database, metadata and backups of the workspace.
	ResetWorkspace(ctx context.Context, path string) error

	// PathExists reports whether path exists right now.
	PathExists(ctx context.Context, path string) (bool, error)
}

// Seeder produces the minimal valid database written by setup and reset.
type Seeder interface {
	Seed(ctx context.Context) ([]byte, error)
}
