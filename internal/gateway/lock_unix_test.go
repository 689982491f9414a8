//go:build unix

package gateway

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"testing"

	"loft-go/internal/loft"

	"golang.org/x/sys/unix"
)

type fixedSeeder struct{}

func (fixedSeeder) Seed(context.Context) ([]byte, error) {
	return append([]byte(nil), loft.DatabaseHeader...), nil
}

func TestLockDir(t *testing.T) {
	dir := t.TempDir()

	unlock, err := lockDir(dir, true)
	if err != nil {
		t.Fatalf("lockDir(exclusive) error = %v", err)
	}

	for _, exclusive := range []bool{true, false} {
		if _, err := lockDir(dir, exclusive); !loft.IsLockError(err) {
			t.Errorf("lockDir(exclusive=%v) while held: error = %v, want a lock error", exclusive, err)
		}
	}

	unlock()
	again, err := lockDir(dir, true)
	if err != nil {
		t.Fatalf("lockDir() after unlock error = %v", err)
	}
	again()
}

func TestLockDir_SharedReaders(t *testing.T) {
	dir := t.TempDir()
	first, err := lockDir(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	defer first()
	second, err := lockDir(dir, false)
	if err != nil {
		t.Fatalf("second shared lock error = %v", err)
	}
	second()
}

func TestFileSystemGateway_LockContention(t *testing.T) {
	ctx := context.Background()
	g := NewFileSystemGateway(fixedSeeder{}, loft.RealClock{}, loft.UUIDGenerator{}, "1.0.0")
	path := t.TempDir()
	if err := g.SetupWorkspace(ctx, path); err != nil {
		t.Fatal(err)
	}

	unlock, err := lockDir(path, true)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := g.OpenWorkspace(ctx, path); !errors.Is(err, loft.ErrLockContention) {
		t.Errorf("OpenWorkspace() error = %v, want ErrLockContention", err)
	}
	if err := g.SaveWorkspace(ctx, path, loft.DatabaseHeader); !errors.Is(err, loft.ErrLockContention) {
		t.Errorf("SaveWorkspace() error = %v, want ErrLockContention", err)
	}

	unlock()
	if _, err := g.OpenWorkspace(ctx, path); err != nil {
		t.Errorf("OpenWorkspace() after release error = %v", err)
	}
}

func TestTagError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want loft.ErrorKind
	}{
		{name: "not found", err: fs.ErrNotExist, want: loft.KindWorkspaceMissing},
		{name: "would block", err: &os.PathError{Op: "flock", Path: "/x", Err: unix.EWOULDBLOCK}, want: loft.KindLockContention},
		{name: "permission", err: fs.ErrPermission, want: loft.KindStructural},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := loft.KindOf(tagError("/x", "reading", tt.err)); got != tt.want {
				t.Errorf("KindOf(tagError()) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithSuffix(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "backup-x.sqlite"},
		{2, "backup-x-2.sqlite"},
		{10, "backup-x-10.sqlite"},
	}
	for _, tt := range tests {
		if got := withSuffix("backup-x.sqlite", tt.n); got != tt.want {
			t.Errorf("withSuffix(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
