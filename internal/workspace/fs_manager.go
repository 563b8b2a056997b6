package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/sparkrun/internal/lock"
)

// DefaultPrefix names temporary artifact directories.
const DefaultPrefix = "sparkrun_"

// Dir is an acquired artifact directory. Release it on every exit path.
type Dir struct {
	Path       string
	Persistent bool

	once sync.Once
	lock *lock.DirLock
	err  error
}

// Release removes a temporary directory or unlocks a persistent one. Calling
// it more than once is harmless.
func (d *Dir) Release() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		if d.Persistent {
			d.err = d.lock.Release()
			return
		}
		// Remove while still locked so Prune never sees a half-deleted tree
		// as abandoned.
		var rmErr error
		if err := os.RemoveAll(d.Path); err != nil {
			rmErr = fmt.Errorf("remove artifact directory %s: %w", d.Path, err)
		}
		d.err = errors.Join(rmErr, d.lock.Release())
	})
	return d.err
}

// Keep unlocks d without removing it, handing a temporary directory over to
// the user. Prune may reclaim it once it is old enough.
func (d *Dir) Keep() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() { d.err = d.lock.Release() })
	return d.err
}

// fsManager manages artifact directories on local disk.
type fsManager struct {
	tempRoot string
	prefix   string
	now      func() time.Time
}

var _ Manager = (*fsManager)(nil)

// NewFSManager creates a manager whose temporary directories are created under
// tempRoot (os.TempDir when empty) with the given name prefix.
func NewFSManager(tempRoot, prefix string) (*fsManager, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.ContainsAny(prefix, `/\`) {
		return nil, fmt.Errorf("directory prefix %q must not contain path separators", prefix)
	}
	root := strings.TrimSpace(tempRoot)
	if root == "" {
		root = os.TempDir()
	}

	return &fsManager{
		tempRoot: filepath.Clean(root),
		prefix:   prefix,
		now:      time.Now,
	}, nil
}

// Acquire prepares an artifact directory.
func (m *fsManager) Acquire(ctx context.Context, persistent string) (*Dir, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if persistent = strings.TrimSpace(persistent); persistent != "" {
		abs, err := filepath.Abs(persistent)
		if err != nil {
			return nil, fmt.Errorf("resolve artifact directory %q: %w", persistent, err)
		}
		l, err := lock.AcquireDir(abs)
		if err != nil {
			return nil, err
		}
		return &Dir{Path: abs, Persistent: true, lock: l}, nil
	}

	if err := os.MkdirAll(m.tempRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}
	path, err := os.MkdirTemp(m.tempRoot, m.prefix)
	if err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	l, err := lock.AcquireDir(path)
	if err != nil {
		_ = os.RemoveAll(path)
		return nil, err
	}
	return &Dir{Path: path, lock: l}, nil
}

// Prune removes prefixed temporary directories older than olderThan based on
// modification time. Directories still locked by a live invocation are
// skipped; the others are removed under their lock.
func (m *fsManager) Prune(ctx context.Context, olderThan time.Duration) (PruneReport, error) {
	if err := ctx.Err(); err != nil {
		return PruneReport{}, err
	}
	if olderThan <= 0 {
		return PruneReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.tempRoot)
	if os.IsNotExist(err) {
		return PruneReport{}, nil
	}
	if err != nil {
		return PruneReport{}, fmt.Errorf("read temp root: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := PruneReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), m.prefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.tempRoot, entry.Name())
		l, err := lock.AcquireDir(path)
		if errors.Is(err, lock.ErrHeld) {
			continue
		}
		if err != nil {
			return report, fmt.Errorf("lock artifact directory %q: %w", entry.Name(), err)
		}
		rmErr := os.RemoveAll(path)
		_ = l.Release()
		if rmErr != nil {
			return report, fmt.Errorf("remove artifact directory %q: %w", entry.Name(), rmErr)
		}
		report.DeletedDirs++
	}

	return report, nil
}
