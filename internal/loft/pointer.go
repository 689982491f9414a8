package loft

import (
	"fmt"
	"sync"
)

// PointerStore persists the active workspace path across restarts.
// Load returns "" when nothing has been stored.
type PointerStore interface {
	Load() (string, error)
	Store(path string) error
	Clear() error
}

// WorkspacePointer is the process-wide holder of the active workspace path.
//
// Lifecycle: Init reads the durable value once at startup. The path is written
// only by a successful Service.Open (which also covers an explicit switch) and
// cleared only by Clear, an explicit user action. Reads are free.
type WorkspacePointer struct {
	mu    sync.RWMutex
	store PointerStore
	path  string
}

// NewWorkspacePointer creates a pointer backed by store. Call Init before use.
func NewWorkspacePointer(store PointerStore) *WorkspacePointer {
	return &WorkspacePointer{store: store}
}

// Init loads the persisted path.
func (p *WorkspacePointer) Init() error {
	path, err := p.store.Load()
	if err != nil {
		return fmt.Errorf("loading active workspace: %w", err)
	}
	p.mu.Lock()
	p.path = path
	p.mu.Unlock()
	return nil
}

// Current returns the active workspace path, or "" if none.
func (p *WorkspacePointer) Current() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.path
}

// Clear forgets the active workspace.
func (p *WorkspacePointer) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.Clear(); err != nil {
		return fmt.Errorf("clearing active workspace: %w", err)
	}
	p.path = ""
	return nil
}

// set is called by the open protocol once a workspace is confirmed, and to
// roll back when READY cannot be published. An empty path clears the store.
// The durable store is written first so memory never runs ahead of disk.
func (p *WorkspacePointer) set(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path == path {
		return nil
	}
	if path == "" {
		if err := p.store.Clear(); err != nil {
			return fmt.Errorf("clearing active workspace: %w", err)
		}
		p.path = ""
		return nil
	}
	if err := p.store.Store(path); err != nil {
		return fmt.Errorf("storing active workspace: %w", err)
	}
	p.path = path
	return nil
}
