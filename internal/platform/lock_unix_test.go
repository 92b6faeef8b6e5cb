//go:build unix

package platform

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLockDir_ContentionAndRelease(t *testing.T) {
	dir := t.TempDir()

	lock1, err := LockDir(dir)
	if err != nil {
		t.Fatalf("acquire first lock: %v", err)
	}

	// flock locks belong to the open file description, so a second open in
	// the same process contends like another process would.
	lock2, err := LockDir(dir)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected %v, got %v", ErrLocked, err)
	}
	if lock2 != nil {
		t.Fatalf("expected second lock to be nil, got %#v", lock2)
	}

	if err := lock1.Release(); err != nil {
		t.Fatalf("release first lock: %v", err)
	}
	if err := lock1.Release(); err != nil {
		t.Fatalf("second release must be a no-op: %v", err)
	}

	lock3, err := LockDir(dir)
	if err != nil {
		t.Fatalf("acquire lock after release: %v", err)
	}
	if err := lock3.Release(); err != nil {
		t.Fatalf("release third lock: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, LockFilename)); err != nil {
		t.Fatalf("lock file must stay in place: %v", err)
	}
}

func TestLockDir_MissingDirectory(t *testing.T) {
	if _, err := LockDir(filepath.Join(t.TempDir(), "missing")); err == nil || errors.Is(err, ErrLocked) {
		t.Fatalf("expected open error, got %v", err)
	}
}
