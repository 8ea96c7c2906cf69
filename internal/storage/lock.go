package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrLocked reports that another process already holds a storage path.
var ErrLocked = errors.New("storage: in use by another process")

// FileLock is an exclusive advisory lock held on a lock file for the lifetime
// of a backend. One process owns a data directory or database at a time, so
// ids and the in-memory view of the store cannot diverge between processes.
type FileLock struct {
	once sync.Once
	f    *os.File
}

// AcquireLock opens (creating if needed) the lock file at path and locks it
// without waiting. It fails with ErrLocked if the lock is held elsewhere.
func AcquireLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open lock %s: %w", path, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		if errors.Is(err, errWouldBlock) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("storage: lock %s: %w", path, err)
	}
	return &FileLock{f: f}, nil
}

// Release unlocks and closes the lock file. It is safe to call more than once.
func (l *FileLock) Release() error {
	var err error
	l.once.Do(func() {
		if uerr := unlockFile(l.f); uerr != nil {
			err = uerr
		}
		if cerr := l.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
