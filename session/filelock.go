package session

import (
	"fmt"
	"os"
	"time"
)

const (
	lockMaxRetries = 50
	lockRetryDelay = 100 * time.Millisecond
	lockStaleAfter = 30 * time.Second
)

// fileLock coordinates session-file access across processes via a sibling
// lock file created with O_EXCL.
type fileLock struct {
	f    *os.File
	path string
}

// acquireLock acquires an exclusive lock for the session file at path,
// waiting for a holder to finish and removing stale locks left behind by
// crashed processes.
func acquireLock(path string) (*fileLock, error) {
	lockPath := path + ".lock"

	for i := 0; i < lockMaxRetries; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// PID in the lock file helps debug a stuck lock
			fmt.Fprintf(f, "%d", os.Getpid())
			return &fileLock{f: f, path: lockPath}, nil
		}

		if os.IsExist(err) {
			if info, statErr := os.Stat(lockPath); statErr == nil {
				if time.Since(info.ModTime()) > lockStaleAfter {
					// Stale lock; remove and retry. Losing the removal race
					// to another process is fine.
					if remErr := os.Remove(lockPath); remErr != nil && !os.IsNotExist(remErr) {
						return nil, fmt.Errorf(
							"failed to remove stale lock file %s: %w", lockPath, remErr,
						)
					}
					continue
				}
			}

			time.Sleep(lockRetryDelay)
			continue
		}

		return nil, fmt.Errorf("failed to acquire file lock: %w", err)
	}

	return nil, fmt.Errorf(
		"timeout waiting for file lock after %v",
		time.Duration(lockMaxRetries)*lockRetryDelay,
	)
}

// release closes and removes the lock file.
func (fl *fileLock) release() error {
	if fl.f != nil {
		fl.f.Close()
	}
	return os.Remove(fl.path)
}
