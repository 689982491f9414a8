// Package watch reports changes made to a workspace folder by other
// processes, such as a sync agent replacing the database.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"loft-go/internal/loft"
)

// Op is the kind of change observed.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Target is the workspace file an event concerns.
type Target int

const (
	TargetDatabase Target = iota
	TargetMetadata
	TargetBackup
)

func (t Target) String() string {
	switch t {
	case TargetDatabase:
		return "database"
	case TargetMetadata:
		return "metadata"
	case TargetBackup:
		return "backup"
	default:
		return "unknown"
	}
}

// Event is a change to a workspace file.
type Event struct {
	Path   string
	Target Target
	Op     Op
}

// Watcher watches one workspace root and its backups directory.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu         sync.Mutex
	running    bool
	closed     bool
	root       string
	backupsDir string
}

// New creates a Watcher. It emits nothing until Start.
func New() (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		watcher: w,
		events:  make(chan Event, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start watches the workspace at root. The backups directory is watched too
// when it exists.
func (w *Watcher) Start(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher closed")
	}
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", root, err)
	}
	w.root = abs
	w.backupsDir = filepath.Join(abs, loft.BackupsDirName)

	if err := w.watcher.Add(w.root); err != nil {
		return fmt.Errorf("failed to watch workspace %s: %w", w.root, err)
	}
	w.watchBackups()

	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Close stops watching and closes the Events and Errors channels. It blocks
// until the event loop has exited and is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()

	close(w.events)
	close(w.errors)
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Events returns the channel of workspace changes. It is closed by Close.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns the channel of watch errors. It is closed by Close.
func (w *Watcher) Errors() <-chan error { return w.errors }

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev, ok := w.convert(event); ok {
				select {
				case w.events <- ev:
				case <-w.done:
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// watchBackups adds backups/ to the watch list. A missing directory is
// expected on a half-set-up workspace; any other failure goes to Errors.
func (w *Watcher) watchBackups() {
	err := backupsWatchError(w.backupsDir, w.watcher.Add(w.backupsDir))
	if err == nil {
		return
	}
	select {
	case w.errors <- err:
	case <-w.done:
	}
}

func backupsWatchError(dir string, err error) error {
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to watch backups %s: %w", dir, err)
}

// convert maps an fsnotify event to an Event, dropping temp files, chmod
// events and files that are not part of the workspace.
func (w *Watcher) convert(event fsnotify.Event) (Event, bool) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return Event{}, false
	}

	var target Target
	switch dir := filepath.Dir(event.Name); {
	case dir == w.root && name == loft.DatabaseFileName:
		target = TargetDatabase
	case dir == w.root && name == loft.MetadataFileName:
		target = TargetMetadata
	case dir == w.backupsDir:
		target = TargetBackup
	case dir == w.root && name == loft.BackupsDirName:
		// backups/ appeared after Start; watch it from now on.
		if event.Has(fsnotify.Create) {
			w.watchBackups()
		}
		return Event{}, false
	default:
		return Event{}, false
	}

	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpWrite
	case event.Has(fsnotify.Remove):
		op = OpRemove
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		return Event{}, false
	}

	return Event{Path: event.Name, Target: target, Op: op}, true
}
