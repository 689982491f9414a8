//go:build !unix

package gateway

// lockDir is a no-op where flock is unavailable; only the in-process
// serialization of the service applies.
func lockDir(dir string, exclusive bool) (func(), error) {
	return func() {}, nil
}
