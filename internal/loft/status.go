package loft

import (
	"context"
	"fmt"
)

// WorkspaceStatus is a read-only summary of a workspace.
type WorkspaceStatus struct {
	Path          string
	Active        bool
	Metadata      *WorkspaceMetadata
	DatabasePath  string
	DatabaseSize  int
	HeaderValid   bool
	Backups       []Backup
	CloudSynced   bool
	Report        *DatabaseReport // nil without an Inspector
	OffsiteCopies []string        // nil without a Vault
}

// Status reads the workspace without publishing boot states or moving the
// pointer. A database that fails the header check is reported, not returned
// as an error; missing or locked workspaces are errors.
func (s *Service) Status(ctx context.Context, path string) (*WorkspaceStatus, error) {
	unlock := s.lockPath(path)
	defer unlock()

	opened, err := s.gateway.OpenWorkspace(ctx, path)
	if err != nil {
		return nil, classify(err, path, "reading workspace")
	}

	st := &WorkspaceStatus{
		Path:         path,
		Active:       s.pointer.Current() == path,
		DatabasePath: opened.DatabasePath,
		DatabaseSize: len(opened.Database),
		HeaderValid:  IsValidDatabase(opened.Database),
		CloudSynced:  s.classifier.Classify(path).IsCloudSynced,
	}

	meta, err := ParseMetadata(opened.Metadata)
	if err != nil {
		return nil, &Error{Kind: KindStructural, Path: path, Reason: ReasonUnreadable, Message: "workspace metadata is unreadable", Err: err}
	}
	st.Metadata = meta

	names, err := s.gateway.ListBackups(ctx, path)
	if err != nil {
		return nil, classify(err, path, "listing backups")
	}
	st.Backups = sortedBackups(names)

	if s.inspector != nil && st.HeaderValid {
		report, err := s.inspector.Inspect(opened.Database)
		if err != nil {
			s.logger.Warn("database inspection failed", "path", path, "error", err)
		} else {
			st.Report = report
		}
	}

	if s.vault != nil {
		copies, err := s.vault.ListSnapshots(ctx, meta.ID)
		if err != nil {
			return nil, fmt.Errorf("listing offsite copies: %w", err)
		}
		st.OffsiteCopies = copies
	}

	return st, nil
}
