// Package vault stores encrypted offsite copies of workspace backups.
package vault

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSnapshotNotFound is returned by GetSnapshot for an unknown snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// snapshotExt is appended to stored snapshot names; copies are always age-sealed.
const snapshotExt = ".age"

// validateKey rejects ids and names that could escape their directory or prefix.
func validateKey(workspaceID, name string) error {
	for _, part := range []string{workspaceID, name} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return fmt.Errorf("invalid snapshot key %q/%q", workspaceID, name)
		}
	}
	return nil
}
