package store

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const (
	flushLockName     = "flush_lock"
	exclusiveLockName = "exclusive_lock"
)

// LockFile is the zero-byte flush-lock sentinel. Its presence on disk is the
// sole durable signal that a write was in flight when the process stopped.
type LockFile struct {
	path string
}

// NewLockFile names the sentinel inside the data directory.
func NewLockFile(directory string) *LockFile {
	return &LockFile{path: filepath.Join(directory, flushLockName)}
}

// Exists reports whether the sentinel is present.
func (l *LockFile) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// Create writes the sentinel. Creating an already-present sentinel succeeds.
func (l *LockFile) Create() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create flush lock: %w", err)
	}
	return f.Close()
}

// Remove deletes the sentinel.
func (l *LockFile) Remove() error {
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("remove flush lock: %w", err)
	}
	return nil
}

// DirectoryLock holds an OS advisory lock on the data directory for the
// store's open lifetime. Concurrent opens fail fast.
type DirectoryLock struct {
	path string
	file *os.File
}

// NewDirectoryLock names the lock file inside the data directory.
func NewDirectoryLock(directory string) *DirectoryLock {
	return &DirectoryLock{path: filepath.Join(directory, exclusiveLockName)}
}

// Acquire takes the advisory lock, failing immediately if another process
// holds it.
func (d *DirectoryLock) Acquire() error {
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open exclusive lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return fmt.Errorf("directory locked by another process: %w", err)
	}
	d.file = f
	return nil
}

// Release drops the advisory lock. Releasing an unheld lock is a no-op.
func (d *DirectoryLock) Release() error {
	if d.file == nil {
		return nil
	}
	if err := unix.Flock(int(d.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unlock exclusive lock: %w", err)
	}
	err := d.file.Close()
	d.file = nil
	return err
}
