// Package platform holds OS-specific helpers.
package platform

import "errors"

// LockFilename is created inside the locked directory and left in place.
const LockFilename = "carlink.lock"

var (
	// ErrLocked means another process holds the directory lock.
	ErrLocked = errors.New("directory is locked by another process")
	// ErrLockUnsupported means this platform has no lock backend.
	ErrLockUnsupported = errors.New("directory lock unsupported")
)

// DirLock is an acquired exclusive lock on a data directory.
type DirLock interface {
	Release() error
}

// LockDir takes an exclusive, non-blocking lock on dir. The lock is released
// by Release or when the process exits.
func LockDir(dir string) (DirLock, error) {
	return lockDir(dir)
}
