package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// StaleLockAge is how old a lock file must be before it is broken on
// filesystems without flock support.
const StaleLockAge = 10 * time.Minute

// LockedError reports that another process holds the state lock.
type LockedError struct {
	Path   string
	Holder string // contents of the lock file, if readable
}

func (e *LockedError) Error() string {
	msg := fmt.Sprintf("state is locked by another process (lock file: %s)", e.Path)
	if e.Holder != "" {
		msg += ": " + strings.ReplaceAll(strings.TrimSpace(e.Holder), "\n", ", ")
	}
	return msg
}

// Lock acquires an exclusive lock on the state to prevent concurrent runs.
// The lock is an flock on the lock file, released when the process exits.
func (m *Manager) Lock() error {
	if m.lockFile != nil {
		return nil
	}

	lockPath := m.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		switch {
		case errors.Is(err, unix.EWOULDBLOCK):
			holder, _ := os.ReadFile(lockPath)
			return &LockedError{Path: lockPath, Holder: string(holder)}
		case errors.Is(err, unix.ENOLCK), errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, unix.ENOSYS):
			return createLockFile(lockPath)
		default:
			return fmt.Errorf("failed to lock %s: %w", lockPath, err)
		}
	}

	// the flock is ours, so any previous contents came from a dead process
	if err := f.Truncate(0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return fmt.Errorf("failed to reset lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(lockInfo()), 0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return fmt.Errorf("failed to write lock file: %w", err)
	}

	m.lockFile = f
	return nil
}

// Unlock releases the state lock. An flocked lock file is emptied but kept,
// so a waiting process never locks an unlinked inode.
func (m *Manager) Unlock() error {
	if f := m.lockFile; f != nil {
		m.lockFile = nil
		f.Truncate(0)
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close lock file: %w", err)
		}
		return nil
	}

	lockPath := m.lockPath()
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (m *Manager) lockPath() string {
	return m.path + ".lock"
}

// createLockFile takes the lock by exclusive creation, breaking locks older
// than StaleLockAge.
func createLockFile(lockPath string) error {
	if info, err := os.Stat(lockPath); err == nil {
		if time.Since(info.ModTime()) > StaleLockAge {
			os.Remove(lockPath)
		} else {
			holder, _ := os.ReadFile(lockPath)
			return &LockedError{Path: lockPath, Holder: string(holder)}
		}
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return &LockedError{Path: lockPath}
	}
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(lockInfo()); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

func lockInfo() string {
	return fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
}
