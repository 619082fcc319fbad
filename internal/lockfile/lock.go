package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrLocked is returned when a lock cannot be acquired because it is held by another process.
var ErrLocked = errProcessLocked

// ErrLockBusy describes a conflicting lock held by another process. No
// function in this package returns it: contention is reported as
// ErrLocked.
var ErrLockBusy = errors.New("lock busy: held by another process")

// IsLocked returns true if the error indicates a lock is held by another process.
func IsLocked(err error) bool {
	return err == errProcessLocked
}

// DataDirLock holds an exclusive flock on a metastore data directory for
// the lifetime of the writing process, enforcing the single-writer
// invariant at the filesystem level rather than only inside the process.
type DataDirLock struct {
	f *os.File
}

// AcquireDataDir takes an exclusive non-blocking lock on dataDir/LOCK.
// Returns ErrLocked (checkable with IsLocked) if another process already
// holds it.
func AcquireDataDir(dataDir string) (*DataDirLock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: create data dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dataDir, "LOCK"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open lock file: %w", err)
	}
	if err := FlockExclusiveNonBlocking(f); err != nil {
		f.Close()
		if IsLocked(err) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lockfile: acquire: %w", err)
	}
	return &DataDirLock{f: f}, nil
}

// Release unlocks and closes the underlying lock file.
func (l *DataDirLock) Release() error {
	if err := FlockUnlock(l.f); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
