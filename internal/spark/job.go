package spark

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattjoyce/sparkrun/internal/log"
	"github.com/mattjoyce/sparkrun/internal/process"
)

// JobError reports a Spark child that exited non-zero. ExitCode is
// propagated as sparkrun's own exit status.
type JobError struct {
	ExitCode int
}

func (e *JobError) Error() string {
	return fmt.Sprintf("spark job failed (exit code %d)", e.ExitCode)
}

// Job is one assembled Spark invocation.
type Job struct {
	Args []string
	Env  map[string]string
}

// NewSubmitJob builds a spark-submit job.
func NewSubmitJob(opts Options, artifactDirs, jobArgs []string) (Job, error) {
	args, err := BuildSubmit(opts, artifactDirs, jobArgs)
	if err != nil {
		return Job{}, err
	}
	return Job{Args: args, Env: Env(opts, false)}, nil
}

// NewInteractiveJob builds a pyspark session.
func NewInteractiveJob(opts Options, artifactDirs []string) (Job, error) {
	args, err := BuildInteractive(opts, artifactDirs)
	if err != nil {
		return Job{}, err
	}
	return Job{Args: args, Env: Env(opts, true)}, nil
}

// Run executes the job pass-through and waits for it.
func (j Job) Run(ctx context.Context, runner process.Runner) error {
	if runner == nil {
		runner = process.ExecRunner{}
	}
	logger := log.WithComponent("spark")
	logger.Debug("spark command", "command", strings.Join(j.Args, " "))

	code, err := runner.Run(ctx, process.Spec{Args: j.Args, Env: j.Env, Mode: process.PassThrough})
	if err != nil {
		return fmt.Errorf("run spark job: %w", err)
	}
	if code != 0 {
		logger.Debug("spark job exited non-zero", "exit_code", code)
		return &JobError{ExitCode: code}
	}
	return nil
}
