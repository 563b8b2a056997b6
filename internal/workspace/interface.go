package workspace

import (
	"context"
	"time"
)

// Manager governs artifact directory lifecycle for one invocation.
type Manager interface {
	// Acquire returns a fresh, locked temporary directory when persistent is
	// empty, otherwise creates (if absent) and locks persistent.
	Acquire(ctx context.Context, persistent string) (*Dir, error)

	// Prune removes temporary directories left behind by killed runs. Locked
	// directories belong to live runs and are skipped.
	Prune(ctx context.Context, olderThan time.Duration) (PruneReport, error)
}

// PruneReport summarizes a prune run.
type PruneReport struct {
	DeletedDirs int
}
