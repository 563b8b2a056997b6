// Package orchestrate ties configuration, dependency download, command
// assembly and process supervision into the sparkrun commands.
package orchestrate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mattjoyce/sparkrun/internal/config"
	"github.com/mattjoyce/sparkrun/internal/download"
	"github.com/mattjoyce/sparkrun/internal/journal"
	"github.com/mattjoyce/sparkrun/internal/log"
	"github.com/mattjoyce/sparkrun/internal/plugin"
	"github.com/mattjoyce/sparkrun/internal/process"
	"github.com/mattjoyce/sparkrun/internal/spark"
	"github.com/mattjoyce/sparkrun/internal/workspace"
)

// Request carries the explicit (CLI/environment) values of one invocation.
// Config values are merged in by the Orchestrator.
type Request struct {
	Download download.Options
	Spark    spark.Options

	// OutputDir requests a persistent artifact directory.
	OutputDir string
	JobArgs   []string
	// Argv is recorded in the journal.
	Argv []string
}

// Orchestrator runs sparkrun commands against one loaded configuration.
type Orchestrator struct {
	store     *config.Store
	runner    process.Runner
	workspace workspace.Manager
	journal   *journal.Journal
	version   string
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunner replaces the process runner used for pip and spark.
func WithRunner(r process.Runner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

// WithWorkspace replaces the artifact directory manager.
func WithWorkspace(m workspace.Manager) Option {
	return func(o *Orchestrator) { o.workspace = m }
}

// WithJournal records every command in j.
func WithJournal(j *journal.Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithSelfVersion pins the self package to version.
func WithSelfVersion(version string) Option {
	return func(o *Orchestrator) { o.version = version }
}

// New creates an Orchestrator over store.
func New(store *config.Store, opts ...Option) *Orchestrator {
	if store == nil {
		store = config.New(config.DefaultSections...)
	}
	o := &Orchestrator{
		store:  store,
		runner: process.ExecRunner{},
		logger: log.WithComponent("orchestrate"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) downloadOptions(explicit download.Options) download.Options {
	if explicit.SelfVersion == "" {
		explicit.SelfVersion = o.version
	}
	return download.Merge(o.store, explicit)
}

func (o *Orchestrator) workspaceFor(prefix string) (workspace.Manager, error) {
	if o.workspace != nil {
		return o.workspace, nil
	}
	return workspace.NewFSManager("", prefix)
}

// Download resolves and downloads dependencies. On success the artifact
// directory is kept for the caller; on failure or when nothing is needed a
// temporary directory is removed before returning.
func (o *Orchestrator) Download(ctx context.Context, req Request) (res download.Result, err error) {
	done := o.begin(ctx, "download", req.Argv)
	defer func() { done(err, len(res.Artifacts)) }()

	opts := o.downloadOptions(req.Download)
	if !opts.Needed() {
		return download.Result{Skipped: true}, nil
	}

	mgr, err := o.workspaceFor(opts.DirPrefix)
	if err != nil {
		return download.Result{}, err
	}
	dir, err := mgr.Acquire(ctx, req.OutputDir)
	if err != nil {
		return download.Result{}, err
	}

	res, err = download.New(o.runner).Download(ctx, opts, dir.Path)
	finish := dir.Release
	if err == nil && !res.Skipped {
		// The directory outlives this invocation.
		finish = dir.Keep
	}
	if relErr := finish(); relErr != nil {
		o.logger.Warn("failed to release artifact directory", "dir", dir.Path, "error", relErr)
	}
	if err != nil {
		return download.Result{}, err
	}
	return res, nil
}

// staged is a downloaded artifact set owned by a launching command.
type staged struct {
	dirs      []string
	artifacts int
	release   func()
}

// stage downloads with wheel-to-zip conversion into a directory that release
// always removes (or unlocks, when persistent).
func (o *Orchestrator) stage(ctx context.Context, req Request) (staged, error) {
	opts := o.downloadOptions(req.Download)
	opts.ConvertToZip = true
	if !opts.Needed() {
		return staged{release: func() {}}, nil
	}

	mgr, err := o.workspaceFor(opts.DirPrefix)
	if err != nil {
		return staged{}, err
	}
	dir, err := mgr.Acquire(ctx, req.OutputDir)
	if err != nil {
		return staged{}, err
	}
	release := func() {
		if err := dir.Release(); err != nil {
			o.logger.Warn("failed to release artifact directory", "dir", dir.Path, "error", err)
		}
	}

	res, err := download.New(o.runner).Download(ctx, opts, dir.Path)
	if err == nil {
		// Interrupted while pip ran: stop before spawning spark.
		err = ctx.Err()
	}
	if err != nil {
		release()
		return staged{}, err
	}
	return staged{dirs: []string{dir.Path}, artifacts: len(res.Artifacts), release: release}, nil
}

// Submit downloads dependencies and runs spark-submit with jobArgs.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (err error) {
	artifacts := 0
	done := o.begin(ctx, "submit", req.Argv)
	defer func() { done(err, artifacts) }()

	req, sparkOpts := o.peelSparkConf(req)

	st, err := o.stage(ctx, req)
	if err != nil {
		return err
	}
	defer st.release()
	artifacts = st.artifacts

	job, err := spark.NewSubmitJob(sparkOpts, st.dirs, req.JobArgs)
	if err != nil {
		return err
	}
	return job.Run(ctx, o.runner)
}

// Interactive downloads dependencies and starts a pyspark session.
func (o *Orchestrator) Interactive(ctx context.Context, req Request) (err error) {
	artifacts := 0
	done := o.begin(ctx, "shell", req.Argv)
	defer func() { done(err, artifacts) }()

	req, sparkOpts := o.peelSparkConf(req)

	st, err := o.stage(ctx, req)
	if err != nil {
		return err
	}
	defer st.release()
	artifacts = st.artifacts

	job, err := spark.NewInteractiveJob(sparkOpts, st.dirs)
	if err != nil {
		return err
	}
	return job.Run(ctx, o.runner)
}

// RunPlugin resolves name in registry and invokes it with args.
func (o *Orchestrator) RunPlugin(ctx context.Context, registry *plugin.Registry, name string, args []string, argv []string) (err error) {
	done := o.begin(ctx, "runner "+name, argv)
	defer func() { done(err, 0) }()

	entry, err := registry.Resolve(name)
	if err != nil {
		return err
	}
	return plugin.Invoke(ctx, entry, args)
}

// begin opens a journal record and returns its completion callback. Journal
// failures are logged and never affect the command.
func (o *Orchestrator) begin(ctx context.Context, command string, argv []string) func(error, int) {
	if o.journal == nil {
		return func(error, int) {}
	}
	run, err := o.journal.Begin(ctx, command, argv)
	if err != nil {
		o.logger.Warn("journal begin failed", "command", command, "error", err)
		return func(error, int) {}
	}
	logger := o.logger.With("run_id", run.ID)
	return func(cmdErr error, artifacts int) {
		code, msg := ExitCode(cmdErr), ""
		if cmdErr != nil {
			msg = cmdErr.Error()
		}
		// The command context may already be canceled by a forwarded signal.
		if err := o.journal.Finish(context.WithoutCancel(ctx), run.ID, code, msg, artifacts); err != nil {
			logger.Warn("journal finish failed", "error", err)
		}
	}
}

// ExitCode maps a command error to a process exit status: 0 for nil, the
// child's own code for job failures, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var jobErr *spark.JobError
	if errors.As(err, &jobErr) {
		return jobErr.ExitCode
	}
	var exitErr *plugin.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}
