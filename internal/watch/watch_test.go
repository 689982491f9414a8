package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"loft-go/internal/loft"
)

func newWorkspaceDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, loft.BackupsDirName), 0755); err != nil {
		t.Fatal(err)
	}
	return root
}

// waitFor returns the first event matching target and op, failing after a timeout.
func waitFor(t *testing.T, w *Watcher, target Target, op Op) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				t.Fatal("events channel closed")
			}
			if ev.Target == target && ev.Op == op {
				return ev
			}
		case err := <-w.Errors():
			t.Fatalf("watch error: %v", err)
		case <-timeout:
			t.Fatalf("timed out waiting for %s %s event", target, op)
		}
	}
}

func TestWatcher_StartClose(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if w.IsRunning() {
		t.Error("new watcher should not be running")
	}

	if err := w.Start(newWorkspaceDir(t)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !w.IsRunning() {
		t.Error("watcher should be running after Start()")
	}
	if err := w.Start(t.TempDir()); err == nil {
		t.Error("second Start() should fail")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.IsRunning() {
		t.Error("watcher should not be running after Close()")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestWatcher_StartMissingRoot(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Start(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Start() on a missing folder should fail")
	}
}

func TestWatcher_Events(t *testing.T) {
	root := newWorkspaceDir(t)
	w, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Start(root); err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(root, loft.DatabaseFileName)
	if err := os.WriteFile(dbPath, []byte("SQLite format 3\x00"), 0644); err != nil {
		t.Fatal(err)
	}
	ev := waitFor(t, w, TargetDatabase, OpCreate)
	if ev.Path != dbPath {
		t.Errorf("Path = %q, want %q", ev.Path, dbPath)
	}

	backup := filepath.Join(root, loft.BackupsDirName, "backup-20240115T103000.000Z.sqlite")
	if err := os.WriteFile(backup, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, TargetBackup, OpCreate)

	if err := os.Remove(dbPath); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, TargetDatabase, OpRemove)
}

func TestWatcher_Convert(t *testing.T) {
	w := &Watcher{root: "/ws", backupsDir: "/ws/backups"}

	tests := []struct {
		name   string
		event  fsnotify.Event
		want   Event
		wantOK bool
	}{
		{
			name:   "database write",
			event:  fsnotify.Event{Name: "/ws/database.sqlite", Op: fsnotify.Write},
			want:   Event{Path: "/ws/database.sqlite", Target: TargetDatabase, Op: OpWrite},
			wantOK: true,
		},
		{
			name:   "metadata rename",
			event:  fsnotify.Event{Name: "/ws/workspace.json", Op: fsnotify.Rename},
			want:   Event{Path: "/ws/workspace.json", Target: TargetMetadata, Op: OpRename},
			wantOK: true,
		},
		{
			name:   "backup remove",
			event:  fsnotify.Event{Name: "/ws/backups/b.sqlite", Op: fsnotify.Remove},
			want:   Event{Path: "/ws/backups/b.sqlite", Target: TargetBackup, Op: OpRemove},
			wantOK: true,
		},
		{
			name:  "temp file",
			event: fsnotify.Event{Name: "/ws/.tmp-123", Op: fsnotify.Create},
		},
		{
			name:  "unrelated file",
			event: fsnotify.Event{Name: "/ws/notes.txt", Op: fsnotify.Write},
		},
		{
			name:  "chmod",
			event: fsnotify.Event{Name: "/ws/database.sqlite", Op: fsnotify.Chmod},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := w.convert(tt.event)
			if ok != tt.wantOK {
				t.Fatalf("convert() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("convert() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestWatcher_StartWithoutBackups(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Start(t.TempDir()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case err := <-w.Errors():
		t.Errorf("missing backups/ reported as %v", err)
	default:
	}
}

func TestBackupsWatchError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantNil bool
	}{
		{name: "added", err: nil, wantNil: true},
		{name: "not created yet", err: fs.ErrNotExist, wantNil: true},
		{name: "ENOENT", err: fmt.Errorf("%q: %w", "/w/backups", syscall.ENOENT), wantNil: true},
		{name: "permission", err: fmt.Errorf("%q: %w", "/w/backups", syscall.EACCES), wantNil: false},
		{name: "watch limit", err: syscall.ENOSPC, wantNil: false},
		{name: "closed watcher", err: fsnotify.ErrClosed, wantNil: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := backupsWatchError("/w/backups", tt.err)
			if (got == nil) != tt.wantNil {
				t.Fatalf("backupsWatchError(%v) = %v, want nil=%v", tt.err, got, tt.wantNil)
			}
			if got != nil && !errors.Is(got, tt.err) {
				t.Errorf("error %v does not wrap %v", got, tt.err)
			}
		})
	}
}
