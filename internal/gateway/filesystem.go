package gateway

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"loft-go/internal/loft"
)

// FileSystemGateway stores workspaces as folders on the local filesystem:
//
//	<root>/
//	  database.sqlite
//	  workspace.json
//	  backups/
//	    backup-<timestamp>.sqlite
//
// Reads take a shared flock on the root directory and writes an exclusive
// one, both non-blocking, so a second process holding the workspace surfaces
// as lock contention instead of a torn read.
type FileSystemGateway struct {
	seeder     loft.Seeder
	clock      loft.Clock
	idgen      loft.IDGenerator
	appVersion string
}

// NewFileSystemGateway creates a filesystem gateway. seeder provides the
// database written by setup; appVersion is stamped into workspace.json.
func NewFileSystemGateway(seeder loft.Seeder, clock loft.Clock, idgen loft.IDGenerator, appVersion string) *FileSystemGateway {
	return &FileSystemGateway{
		seeder:     seeder,
		clock:      clock,
		idgen:      idgen,
		appVersion: appVersion,
	}
}

type layout struct {
	root, db, meta, backups string
}

func layoutOf(root string) layout {
	return layout{
		root:    root,
		db:      filepath.Join(root, loft.DatabaseFileName),
		meta:    filepath.Join(root, loft.MetadataFileName),
		backups: filepath.Join(root, loft.BackupsDirName),
	}
}

func (g *FileSystemGateway) SetupWorkspace(ctx context.Context, path string) error {
	l := layoutOf(path)
	if err := os.MkdirAll(l.backups, 0755); err != nil {
		return tagError(path, "creating workspace directories", err)
	}

	unlock, err := lockDir(path, true)
	if err != nil {
		return tagError(path, "locking workspace", err)
	}
	defer unlock()

	dbExists, err := fileExists(l.db)
	if err != nil {
		return tagError(path, "checking database", err)
	}
	if !dbExists {
		data, err := g.seeder.Seed(ctx)
		if err != nil {
			return fmt.Errorf("seeding database: %w", err)
		}
		if err := writeFileAtomic(l.db, data); err != nil {
			return tagError(path, "writing database", err)
		}
	}

	metaExists, err := fileExists(l.meta)
	if err != nil {
		return tagError(path, "checking metadata", err)
	}
	if !metaExists {
		meta := loft.NewWorkspaceMetadata(g.idgen.New(), g.appVersion, g.clock.Now())
		data, err := meta.Marshal()
		if err != nil {
			return err
		}
		if err := writeFileAtomic(l.meta, data); err != nil {
			return tagError(path, "writing metadata", err)
		}
	}
	return nil
}

func (g *FileSystemGateway) OpenWorkspace(ctx context.Context, path string) (*loft.OpenedWorkspace, error) {
	if err := requireDir(path); err != nil {
		return nil, err
	}
	l := layoutOf(path)

	unlock, err := lockDir(path, false)
	if err != nil {
		return nil, tagError(path, "locking workspace", err)
	}
	defer unlock()

	meta, err := os.ReadFile(l.meta)
	if err != nil {
		return nil, tagError(path, "reading "+loft.MetadataFileName, err)
	}
	db, err := os.ReadFile(l.db)
	if err != nil {
		return nil, tagError(path, "reading "+loft.DatabaseFileName, err)
	}

	return &loft.OpenedWorkspace{
		Metadata:     meta,
		Database:     db,
		DatabasePath: l.db,
		MetadataPath: l.meta,
		BackupsDir:   l.backups,
	}, nil
}

// SaveWorkspace replaces the database with a temp file and rename, then
// refreshes workspace.json the same way. A missing metadata file is recreated.
func (g *FileSystemGateway) SaveWorkspace(ctx context.Context, path string, data []byte) error {
	if err := requireDir(path); err != nil {
		return err
	}
	l := layoutOf(path)

	unlock, err := lockDir(path, true)
	if err != nil {
		return tagError(path, "locking workspace", err)
	}
	defer unlock()

	if err := writeFileAtomic(l.db, data); err != nil {
		return tagError(path, "writing database", err)
	}

	var meta *loft.WorkspaceMetadata
	raw, err := os.ReadFile(l.meta)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		meta = loft.NewWorkspaceMetadata(g.idgen.New(), g.appVersion, g.clock.Now())
	case err != nil:
		return tagError(path, "reading metadata after save", err)
	default:
		meta, err = loft.ParseMetadata(raw)
		if err != nil {
			return loft.NewError(loft.KindStructural, path, "database saved but metadata is unreadable", err)
		}
		meta.Touch(g.appVersion, g.clock.Now())
	}

	out, err := meta.Marshal()
	if err != nil {
		return err
	}
	if err := writeFileAtomic(l.meta, out); err != nil {
		return tagError(path, "writing metadata", err)
	}
	return nil
}

// CreateBackup copies the database into backups/. The snapshot is written to
// a temp file and hard-linked into place, so an existing backup is never
// replaced; on a name collision a -N suffix is added.
func (g *FileSystemGateway) CreateBackup(ctx context.Context, path string) (string, error) {
	if err := requireDir(path); err != nil {
		return "", err
	}
	l := layoutOf(path)

	unlock, err := lockDir(path, true)
	if err != nil {
		return "", tagError(path, "locking workspace", err)
	}
	defer unlock()

	data, err := os.ReadFile(l.db)
	if err != nil {
		return "", tagError(path, "reading "+loft.DatabaseFileName, err)
	}
	if err := os.MkdirAll(l.backups, 0755); err != nil {
		return "", tagError(path, "creating backups directory", err)
	}

	tmp, err := writeTemp(l.backups, data)
	if err != nil {
		return "", tagError(path, "writing backup", err)
	}
	defer os.Remove(tmp)

	base := loft.BackupName(g.clock.Now())
	for n := 1; ; n++ {
		name := withSuffix(base, n)
		err := os.Link(tmp, filepath.Join(l.backups, name))
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", tagError(path, "writing backup", err)
		}
	}
}

// withSuffix returns name for n == 1 and name with "-n" before the extension otherwise.
func withSuffix(name string, n int) string {
	if n == 1 {
		return name
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "-" + strconv.Itoa(n) + ext
}

func (g *FileSystemGateway) ListBackups(ctx context.Context, path string) ([]string, error) {
	if err := requireDir(path); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(layoutOf(path).backups)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, tagError(path, "listing backups", err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (g *FileSystemGateway) RestoreBackup(ctx context.Context, path string, name string) ([]byte, error) {
	if err := validateBackupName(name); err != nil {
		return nil, loft.NewError(loft.KindStructural, path, "invalid backup name", err)
	}
	if err := requireDir(path); err != nil {
		return nil, err
	}

	unlock, err := lockDir(path, false)
	if err != nil {
		return nil, tagError(path, "locking workspace", err)
	}
	defer unlock()

	data, err := os.ReadFile(filepath.Join(layoutOf(path).backups, name))
	if err != nil {
		return nil, tagError(path, "reading backup "+name, err)
	}
	return data, nil
}

// ResetWorkspace removes only the files a workspace consists of; anything
// else the user keeps in the folder is left alone.
func (g *FileSystemGateway) ResetWorkspace(ctx context.Context, path string) error {
	if err := requireDir(path); err != nil {
		return err
	}
	l := layoutOf(path)

	unlock, err := lockDir(path, true)
	if err != nil {
		return tagError(path, "locking workspace", err)
	}
	defer unlock()

	for _, f := range []string{l.db, l.meta} {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return tagError(path, "removing "+filepath.Base(f), err)
		}
	}
	if err := os.RemoveAll(l.backups); err != nil {
		return tagError(path, "removing backups", err)
	}
	return nil
}

func (g *FileSystemGateway) PathExists(ctx context.Context, path string) (bool, error) {
	return fileExists(path)
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return tagError(path, "workspace folder", err)
	}
	if !info.IsDir() {
		return loft.NewError(loft.KindStructural, path, "workspace path is not a directory", nil)
	}
	return nil
}

func validateBackupName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%q is not a backup file name", name)
	}
	return nil
}

// tagError gives OS errors the kind the open protocol acts on.
func tagError(path, message string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return loft.NewError(loft.KindWorkspaceMissing, path, message+": not found", err)
	case loft.IsLockError(err):
		return loft.NewError(loft.KindLockContention, path, message+": locked by another process", err)
	default:
		return loft.NewError(loft.KindStructural, path, message, err)
	}
}

// writeFileAtomic writes data to destPath using a temp file in the same
// directory and a rename.
func writeFileAtomic(destPath string, data []byte) error {
	tmpPath, err := writeTemp(filepath.Dir(destPath), data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// writeTemp writes data to a synced temp file in dir and returns its path.
func writeTemp(dir string, data []byte) (string, error) {
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	success = true
	return tmpPath, nil
}

var _ loft.Gateway = (*FileSystemGateway)(nil)
