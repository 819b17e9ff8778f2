package local

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// lockFileName is created inside the data directory.
const lockFileName = ".correl8.lock"

// dirLock keeps a second process from opening the same data directory.
type dirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

func newDirLock(dir string) *dirLock {
	path := filepath.Join(dir, lockFileName)
	return &dirLock{path: path, flock: flock.New(path)}
}

// tryLock takes the lock without blocking. It fails if another process holds it.
func (l *dirLock) tryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("data directory %s is in use by another process", filepath.Dir(l.path))
	}
	l.locked = true
	return nil
}

// unlock is safe to call more than once.
func (l *dirLock) unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
