package loft

import (
	"context"
	"io"
)

// Vault stores encrypted copies of workspace backups outside the workspace
// folder. Copies are keyed by workspace id and backup name and, like local
// backups, are never overwritten with different content.
type Vault interface {
	// PutSnapshot stores size bytes read from r as the named snapshot.
	PutSnapshot(ctx context.Context, workspaceID, name string, r io.Reader, size int64) error

	// GetSnapshot writes the named snapshot to w.
	GetSnapshot(ctx context.Context, workspaceID, name string, w io.Writer) error

	// ListSnapshots returns the names of all snapshots stored for a workspace.
	ListSnapshots(ctx context.Context, workspaceID string) ([]string, error)

	// ValidateSetup verifies that the vault is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
