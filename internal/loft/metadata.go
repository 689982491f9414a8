package loft

import (
	"encoding/json"
	"fmt"
	"time"
)

// Workspace layout.
const (
	DatabaseFileName = "database.sqlite"
	MetadataFileName = "workspace.json"
	BackupsDirName   = "backups"
)

const (
	// MetadataSchemaVersion is the newest workspace.json schema this binary understands.
	MetadataSchemaVersion = 1
	// MetadataKind is the only accepted value of WorkspaceMetadata.Kind.
	MetadataKind = "workspace"
)

// WorkspaceMetadata is the typed form of workspace.json.
type WorkspaceMetadata struct {
	SchemaVersion int       `json:"schemaVersion"`
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	AppVersion    string    `json:"appVersion"`
	Kind          string    `json:"kind"`
	DBFileName    string    `json:"dbFileName"`
}

// NewWorkspaceMetadata creates metadata for a freshly set up workspace.
func NewWorkspaceMetadata(id, appVersion string, now time.Time) *WorkspaceMetadata {
	now = now.UTC()
	return &WorkspaceMetadata{
		SchemaVersion: MetadataSchemaVersion,
		ID:            id,
		CreatedAt:     now,
		UpdatedAt:     now,
		AppVersion:    appVersion,
		Kind:          MetadataKind,
		DBFileName:    DatabaseFileName,
	}
}

// ParseMetadata decodes workspace.json and fills defaults for fields older
// files may omit. It rejects files that describe something other than a
// workspace or that were written by a newer schema.
func ParseMetadata(data []byte) (*WorkspaceMetadata, error) {
	var m WorkspaceMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding workspace metadata: %w", err)
	}

	if m.SchemaVersion == 0 {
		m.SchemaVersion = MetadataSchemaVersion
	}
	if m.Kind == "" {
		m.Kind = MetadataKind
	}
	if m.DBFileName == "" {
		m.DBFileName = DatabaseFileName
	}

	if m.Kind != MetadataKind {
		return nil, fmt.Errorf("unexpected metadata kind %q", m.Kind)
	}
	if m.SchemaVersion > MetadataSchemaVersion {
		return nil, fmt.Errorf("metadata schema version %d is newer than supported version %d", m.SchemaVersion, MetadataSchemaVersion)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("workspace metadata has no id")
	}
	return &m, nil
}

// Marshal encodes the metadata the way it is stored on disk.
func (m *WorkspaceMetadata) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding workspace metadata: %w", err)
	}
	return append(data, '\n'), nil
}

// Touch records a successful save.
func (m *WorkspaceMetadata) Touch(appVersion string, now time.Time) {
	m.UpdatedAt = now.UTC()
	if appVersion != "" {
		m.AppVersion = appVersion
	}
}
