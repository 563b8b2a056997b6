package process

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/mattjoyce/sparkrun/internal/process Runner

// Runner executes a child to completion and returns its exit code. A non-zero
// exit code is a result, not an error; errors are reserved for failures to
// spawn or supervise the child.
type Runner interface {
	Run(ctx context.Context, spec Spec) (int, error)
}

// ExecRunner runs each Spec under a fresh Supervisor.
type ExecRunner struct {
	Options []Option
	// Timeout bounds Wait; zero waits for exit. An expired timeout leaves the
	// child running and returns ErrWaitTimeout.
	Timeout time.Duration
}

var _ Runner = ExecRunner{}

// Run starts spec and waits for it.
func (r ExecRunner) Run(ctx context.Context, spec Spec) (int, error) {
	sup := New(r.Options...)
	if err := sup.Start(ctx, spec); err != nil {
		return -1, err
	}
	return sup.Wait(r.Timeout)
}
