package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"loft-go/internal/loft"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It is useful for testing. This implementation is safe for concurrent use.
type MemoryVault struct {
	name      string
	snapshots map[string]map[string][]byte // workspaceID -> name -> sealed bytes
	mu        sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		snapshots: make(map[string]map[string][]byte),
	}
}

// PutSnapshot stores a snapshot. Storing a name that already exists is a no-op.
func (m *MemoryVault) PutSnapshot(ctx context.Context, workspaceID, name string, r io.Reader, size int64) error {
	if err := validateKey(workspaceID, name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.snapshots[workspaceID]
	if !ok {
		ws = make(map[string][]byte)
		m.snapshots[workspaceID] = ws
	}
	if _, exists := ws[name]; !exists {
		ws[name] = data
	}
	return nil
}

func (m *MemoryVault) GetSnapshot(ctx context.Context, workspaceID, name string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.snapshots[workspaceID][name]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, workspaceID, name)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (m *MemoryVault) ListSnapshots(ctx context.Context, workspaceID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.snapshots[workspaceID]))
	for name := range m.snapshots[workspaceID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}

var _ loft.Vault = (*MemoryVault)(nil)
