//go:build !unix

package storage

// lockFile is a no-op where flock is unavailable; writers in the same process
// are still serialised by the store mutex.
func lockFile(string) (func() error, error) {
	return func() error { return nil }, nil
}
