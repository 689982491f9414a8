// Package state persists the active workspace pointer between runs.
package state

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"loft-go/internal/loft"
)

// fileState is the on-disk shape of the state file.
type fileState struct {
	ActiveWorkspace string `toml:"active_workspace"`
}

// FilePointerStore keeps the active workspace path in a small TOML file. Writes
// go through a temp file and a rename, so a crash leaves either the old or the
// new pointer.
type FilePointerStore struct {
	path string
}

// NewFilePointerStore creates a store backed by the file at path. The file is
// created on the first Store.
func NewFilePointerStore(path string) *FilePointerStore {
	return &FilePointerStore{path: path}
}

// Load returns the stored path, or "" when the file does not exist yet.
func (s *FilePointerStore) Load() (string, error) {
	var st fileState
	if _, err := toml.DecodeFile(s.path, &st); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading state file %s: %w", s.path, err)
	}
	return st.ActiveWorkspace, nil
}

func (s *FilePointerStore) Store(path string) error {
	return s.write(fileState{ActiveWorkspace: path})
}

func (s *FilePointerStore) Clear() error {
	return s.write(fileState{})
}

func (s *FilePointerStore) write(st fileState) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(st); err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// MemoryPointerStore keeps the pointer in memory. Safe for concurrent use.
type MemoryPointerStore struct {
	mu     sync.Mutex
	path   string
	writes int
	err    error
}

// NewMemoryPointerStore creates a store holding initial.
func NewMemoryPointerStore(initial string) *MemoryPointerStore {
	return &MemoryPointerStore{path: initial}
}

func (s *MemoryPointerStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, nil
}

func (s *MemoryPointerStore) Store(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.path = path
	s.writes++
	return nil
}

func (s *MemoryPointerStore) Clear() error {
	return s.Store("")
}

// Writes returns how many times Store or Clear succeeded.
func (s *MemoryPointerStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// FailWrites makes subsequent Store and Clear calls return err; nil restores them.
func (s *MemoryPointerStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

var (
	_ loft.PointerStore = (*FilePointerStore)(nil)
	_ loft.PointerStore = (*MemoryPointerStore)(nil)
)
