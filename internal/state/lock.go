package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/picklr-io/picklr-aws/internal/logging"
)

// staleLockAge is how old a lock file must be before it is broken.
const staleLockAge = 10 * time.Minute

// LockInfo is recorded by whoever holds the state lock.
type LockInfo struct {
	ID      string    `json:"id"`
	PID     int       `json:"pid"`
	Created time.Time `json:"created"`
}

func newLockInfo() LockInfo {
	return LockInfo{ID: ulid.Make().String(), PID: os.Getpid(), Created: time.Now().UTC()}
}

// Lock acquires a file lock on the state to prevent concurrent modifications.
func (m *Manager) Lock(_ context.Context) error {
	lockPath := m.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if info, err := os.Stat(lockPath); err == nil && time.Since(info.ModTime()) > staleLockAge {
		logging.Warn("breaking stale state lock", "path", lockPath, "age", time.Since(info.ModTime()).Round(time.Second))
		_ = os.Remove(lockPath)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("state is locked by another process (lock file: %s). "+
			"If this is an error, remove the lock file manually", lockPath)
	}
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(newLockInfo()); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// Unlock releases the state lock.
func (m *Manager) Unlock(_ context.Context) error {
	if err := os.Remove(m.lockPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (m *Manager) lockPath() string {
	return m.path + ".lock"
}
