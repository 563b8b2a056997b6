package download

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattjoyce/sparkrun/internal/log"
	"github.com/mattjoyce/sparkrun/internal/process"
)

// Error reports a pip download that exited non-zero.
type Error struct {
	ExitCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("download packages failed (exit code %d)", e.ExitCode)
}

// Result describes the populated artifact directory.
type Result struct {
	Dir       string     `yaml:"dir"`
	Skipped   bool       `yaml:"skipped,omitempty"`
	Artifacts []Artifact `yaml:"artifacts,omitempty"`
}

// Downloader runs pip through a process.Runner and post-processes the output.
type Downloader struct {
	runner process.Runner
	logger *slog.Logger
}

// New creates a Downloader. A nil runner uses process.ExecRunner.
func New(runner process.Runner) *Downloader {
	if runner == nil {
		runner = process.ExecRunner{}
	}
	return &Downloader{runner: runner, logger: log.WithComponent("download")}
}

// Download populates dir according to opts. When nothing is needed it returns
// a skipped result without spawning a process or touching dir.
func (d *Downloader) Download(ctx context.Context, opts Options, dir string) (Result, error) {
	if !opts.Needed() {
		d.logger.Debug("nothing to download")
		return Result{Skipped: true}, nil
	}
	if dir == "" {
		return Result{}, fmt.Errorf("download directory is empty")
	}

	args := opts.BuildCommand(dir)
	d.logger.Info("downloading python plugins", "dir", dir)
	d.logger.Debug("pip command", "command", strings.Join(args, " "))

	mode := process.Buffered
	if opts.Debug {
		mode = process.PassThrough
	}
	code, err := d.runner.Run(ctx, process.Spec{Args: args, Env: opts.Env, Mode: mode})
	if err != nil {
		return Result{}, fmt.Errorf("run pip download: %w", err)
	}
	if code != 0 {
		return Result{}, &Error{ExitCode: code}
	}

	if err := d.postProcess(opts, dir); err != nil {
		return Result{}, err
	}

	artifacts, err := Collect(dir)
	if err != nil {
		return Result{}, err
	}
	return Result{Dir: dir, Artifacts: artifacts}, nil
}

// postProcess drops excluded wheels, then optionally renames wheels to .zip.
func (d *Downloader) postProcess(opts Options, dir string) error {
	wheels, err := filepath.Glob(filepath.Join(dir, "*.whl"))
	if err != nil {
		return fmt.Errorf("list wheels: %w", err)
	}
	sort.Strings(wheels)

	excluded := make(map[string]bool, len(opts.ExcludePackages))
	for _, name := range opts.ExcludePackages {
		excluded[NormalizeName(name)] = true
	}

	for _, w := range wheels {
		if info, err := os.Stat(w); err != nil || !info.Mode().IsRegular() {
			continue
		}
		if len(excluded) > 0 {
			name, err := WheelName(w)
			if err != nil {
				return err
			}
			if excluded[NormalizeName(name)] {
				d.logger.Debug("excluding package", "package", name, "file", filepath.Base(w))
				if err := os.Remove(w); err != nil {
					return fmt.Errorf("remove excluded wheel: %w", err)
				}
				continue
			}
		}
		if opts.ConvertToZip {
			if err := os.Rename(w, strings.TrimSuffix(w, ".whl")+".zip"); err != nil {
				return fmt.Errorf("convert wheel to zip: %w", err)
			}
		}
	}
	return nil
}
