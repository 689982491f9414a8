package gateway

import (
	"context"
	"fmt"
	"sync"

	"loft-go/internal/loft"
)

// MemoryGateway is an in-memory implementation of loft.Gateway, useful for
// tests and dry runs. A path "exists" once it has been set up or added with
// AddFolder. This implementation is safe for concurrent use.
type MemoryGateway struct {
	seeder     loft.Seeder
	clock      loft.Clock
	idgen      loft.IDGenerator
	appVersion string

	mu      sync.RWMutex
	folders map[string]*memWorkspace
	locked  map[string]bool
}

type memWorkspace struct {
	db      []byte
	meta    []byte
	backups map[string][]byte
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway(seeder loft.Seeder, clock loft.Clock, idgen loft.IDGenerator, appVersion string) *MemoryGateway {
	return &MemoryGateway{
		seeder:     seeder,
		clock:      clock,
		idgen:      idgen,
		appVersion: appVersion,
		folders:    make(map[string]*memWorkspace),
		locked:     make(map[string]bool),
	}
}

// AddFolder makes path exist as an empty folder.
func (m *MemoryGateway) AddFolder(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[path]; !ok {
		m.folders[path] = &memWorkspace{backups: make(map[string][]byte)}
	}
}

// RemoveFolder deletes path and everything in it.
func (m *MemoryGateway) RemoveFolder(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.folders, path)
}

// PutDatabase writes data as the database of path without any checks.
func (m *MemoryGateway) PutDatabase(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folder(path).db = append([]byte(nil), data...)
}

// PutMetadata writes raw workspace.json contents without any checks.
func (m *MemoryGateway) PutMetadata(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folder(path).meta = append([]byte(nil), data...)
}

// PutBackup writes a backup without any checks.
func (m *MemoryGateway) PutBackup(path, name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folder(path).backups[name] = append([]byte(nil), data...)
}

// Database returns a copy of the database bytes of path, or nil.
func (m *MemoryGateway) Database(path string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.folders[path]
	if !ok || w.db == nil {
		return nil
	}
	return append([]byte(nil), w.db...)
}

// Metadata returns a copy of the raw workspace.json of path, or nil.
func (m *MemoryGateway) Metadata(path string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.folders[path]
	if !ok || w.meta == nil {
		return nil
	}
	return append([]byte(nil), w.meta...)
}

// SetLocked simulates another process holding path.
func (m *MemoryGateway) SetLocked(path string, locked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked[path] = locked
}

// folder returns the workspace for path, creating it. Callers hold mu.
func (m *MemoryGateway) folder(path string) *memWorkspace {
	w, ok := m.folders[path]
	if !ok {
		w = &memWorkspace{backups: make(map[string][]byte)}
		m.folders[path] = w
	}
	return w
}

// get returns the workspace for path or a kind-tagged error. Callers hold mu.
func (m *MemoryGateway) get(path string) (*memWorkspace, error) {
	w, ok := m.folders[path]
	if !ok {
		return nil, loft.NewError(loft.KindWorkspaceMissing, path, "workspace folder: not found", nil)
	}
	if m.locked[path] {
		return nil, loft.NewError(loft.KindLockContention, path, "workspace is locked by another process", nil)
	}
	return w, nil
}

func (m *MemoryGateway) SetupWorkspace(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked[path] {
		return loft.NewError(loft.KindLockContention, path, "workspace is locked by another process", nil)
	}
	w := m.folder(path)

	if w.db == nil {
		data, err := m.seeder.Seed(ctx)
		if err != nil {
			return fmt.Errorf("seeding database: %w", err)
		}
		w.db = data
	}
	if w.meta == nil {
		meta := loft.NewWorkspaceMetadata(m.idgen.New(), m.appVersion, m.clock.Now())
		data, err := meta.Marshal()
		if err != nil {
			return err
		}
		w.meta = data
	}
	return nil
}

func (m *MemoryGateway) OpenWorkspace(ctx context.Context, path string) (*loft.OpenedWorkspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, err := m.get(path)
	if err != nil {
		return nil, err
	}
	if w.meta == nil {
		return nil, loft.NewError(loft.KindWorkspaceMissing, path, "reading "+loft.MetadataFileName+": not found", nil)
	}
	if w.db == nil {
		return nil, loft.NewError(loft.KindWorkspaceMissing, path, "reading "+loft.DatabaseFileName+": not found", nil)
	}

	l := layoutOf(path)
	return &loft.OpenedWorkspace{
		Metadata:     append([]byte(nil), w.meta...),
		Database:     append([]byte(nil), w.db...),
		DatabasePath: l.db,
		MetadataPath: l.meta,
		BackupsDir:   l.backups,
	}, nil
}

func (m *MemoryGateway) SaveWorkspace(ctx context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(path)
	if err != nil {
		return err
	}

	var meta *loft.WorkspaceMetadata
	if w.meta == nil {
		meta = loft.NewWorkspaceMetadata(m.idgen.New(), m.appVersion, m.clock.Now())
	} else {
		meta, err = loft.ParseMetadata(w.meta)
		if err != nil {
			return loft.NewError(loft.KindStructural, path, "metadata is unreadable", err)
		}
		meta.Touch(m.appVersion, m.clock.Now())
	}
	out, err := meta.Marshal()
	if err != nil {
		return err
	}

	w.db = append([]byte(nil), data...)
	w.meta = out
	return nil
}

func (m *MemoryGateway) CreateBackup(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(path)
	if err != nil {
		return "", err
	}
	if w.db == nil {
		return "", loft.NewError(loft.KindWorkspaceMissing, path, "reading "+loft.DatabaseFileName+": not found", nil)
	}

	base := loft.BackupName(m.clock.Now())
	for n := 1; ; n++ {
		name := withSuffix(base, n)
		if _, exists := w.backups[name]; !exists {
			w.backups[name] = append([]byte(nil), w.db...)
			return name, nil
		}
	}
}

func (m *MemoryGateway) ListBackups(ctx context.Context, path string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.folders[path]
	if !ok {
		return nil, loft.NewError(loft.KindWorkspaceMissing, path, "workspace folder: not found", nil)
	}
	names := make([]string, 0, len(w.backups))
	for name := range w.backups {
		names = append(names, name)
	}
	return names, nil
}

func (m *MemoryGateway) RestoreBackup(ctx context.Context, path string, name string) ([]byte, error) {
	if err := validateBackupName(name); err != nil {
		return nil, loft.NewError(loft.KindStructural, path, "invalid backup name", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, err := m.get(path)
	if err != nil {
		return nil, err
	}
	data, ok := w.backups[name]
	if !ok {
		return nil, loft.NewError(loft.KindWorkspaceMissing, path, "reading backup "+name+": not found", nil)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryGateway) ResetWorkspace(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.get(path)
	if err != nil {
		return err
	}
	w.db = nil
	w.meta = nil
	w.backups = make(map[string][]byte)
	return nil
}

func (m *MemoryGateway) PathExists(ctx context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.folders[path]
	return ok, nil
}

var _ loft.Gateway = (*MemoryGateway)(nil)
