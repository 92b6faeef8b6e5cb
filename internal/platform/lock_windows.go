//go:build windows

package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

type windowsDirLock struct {
	file *os.File
}

func lockDir(dir string) (DirLock, error) {
	path := filepath.Join(filepath.Clean(dir), LockFilename)
	// #nosec G304 -- path is the app data directory chosen by the user.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	ol := new(windows.Overlapped)
	err = windows.LockFileEx(windows.Handle(file.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, ol)
	if err != nil {
		_ = file.Close()
		if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
		}

		return nil, fmt.Errorf("acquire file lock: %w", err)
	}

	return &windowsDirLock{file: file}, nil
}

func (l *windowsDirLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	ol := new(windows.Overlapped)
	unlockErr := windows.UnlockFileEx(windows.Handle(l.file.Fd()), 0, 1, 0, ol)
	closeErr := l.file.Close()
	l.file = nil

	if err := errors.Join(unlockErr, closeErr); err != nil {
		return fmt.Errorf("release file lock: %w", err)
	}

	return nil
}
