package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// FileName is the lock file created inside a locked directory.
const FileName = ".sparkrun.lock"

// ErrHeld is returned when another process already holds the directory.
var ErrHeld = errors.New("directory is locked by another process")

// HeldError names the directory and, when readable, the holder's PID.
type HeldError struct {
	Dir string
	PID int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("artifact directory %s is in use by pid %d", e.Dir, e.PID)
	}
	return fmt.Sprintf("artifact directory %s is in use", e.Dir)
}

func (e *HeldError) Unwrap() error { return ErrHeld }

// DirLock is an exclusive flock(2) on a file inside an artifact directory.
// The lock lives as long as the descriptor stays open.
type DirLock struct {
	dir string
	f   *os.File
}

// AcquireDir creates dir if needed, takes a non-blocking exclusive lock on
// dir/FileName and records the current PID in it.
func AcquireDir(dir string) (*DirLock, error) {
	if dir == "" {
		return nil, fmt.Errorf("lock directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, &HeldError{Dir: dir, PID: readPID(path)}
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	if err := writePID(f); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, err
	}

	return &DirLock{dir: dir, f: f}, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

func readPID(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return pid
}

func (l *DirLock) Dir() string { return l.dir }

// Release unlocks and closes the lock file. The file is left in place: removing
// it would let a waiter lock the unlinked inode while a newcomer locks a fresh
// file at the same path.
func (l *DirLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
