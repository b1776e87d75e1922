package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// RebuildLock serializes index rebuilds across processes using gofrs/flock.
// Two `trirank index` runs against the same corpus would otherwise
// interleave writes to the data directory.
// Works on all platforms (Unix, Linux, macOS, Windows).
type RebuildLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewRebuildLock creates a rebuild lock for the given data directory.
// The lock file lives at <dir>/.rebuild.lock.
func NewRebuildLock(dir string) *RebuildLock {
	lockPath := filepath.Join(dir, ".rebuild.lock")
	return &RebuildLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock acquires an exclusive lock, blocking until available.
// The lock file and its directory are created as needed.
func (l *RebuildLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire rebuild lock: %w", err)
	}

	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if acquired, false if another process holds it.
func (l *RebuildLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire rebuild lock: %w", err)
	}

	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call repeatedly or when not held.
func (l *RebuildLock) Unlock() error {
	if !l.locked {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		l.locked = false
		return fmt.Errorf("failed to release rebuild lock: %w", err)
	}

	l.locked = false
	return nil
}

// Path returns the path to the lock file.
func (l *RebuildLock) Path() string {
	return l.path
}

// IsLocked returns true if this process holds the lock.
func (l *RebuildLock) IsLocked() bool {
	return l.locked
}
