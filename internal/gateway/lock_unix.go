//go:build unix

package gateway

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockDir takes a non-blocking flock on dir. A held lock fails with
// EWOULDBLOCK, which loft.IsLockError recognizes.
func lockDir(dir string, exclusive bool) (func(), error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	fd := int(f.Fd())
	if err := unix.Flock(fd, how|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, &os.PathError{Op: "flock", Path: dir, Err: err}
	}

	return func() {
		unix.Flock(fd, unix.LOCK_UN)
		f.Close()
	}, nil
}
