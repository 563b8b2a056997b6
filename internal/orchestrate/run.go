package orchestrate

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/mattjoyce/sparkrun/internal/config"
	"github.com/mattjoyce/sparkrun/internal/spark"
)

// DefaultRunnerModule is the python module the launcher script runs.
const DefaultRunnerModule = "sparkrun.runner"

const launcherTemplate = `import runpy
import sys

sys.argv[0] = %s
runpy.run_module(%s, run_name="__main__", alter_sys=True)
`

// Run submits a generated launcher script that executes the runner module of
// the self package; JobArgs follow the script (typically a plugin name and its
// arguments).
func (o *Orchestrator) Run(ctx context.Context, req Request) (err error) {
	artifacts := 0
	done := o.begin(ctx, "run", req.Argv)
	defer func() { done(err, artifacts) }()

	module := o.store.Section(config.SectionSpark).String("runner-module", DefaultRunnerModule)
	launcher, err := writeLauncher(module)
	if err != nil {
		return err
	}
	defer os.Remove(launcher)

	req, sparkOpts := o.peelSparkConf(req)

	st, err := o.stage(ctx, req)
	if err != nil {
		return err
	}
	defer st.release()
	artifacts = st.artifacts

	jobArgs := append([]string{launcher}, req.JobArgs...)
	job, err := spark.NewSubmitJob(sparkOpts, st.dirs, jobArgs)
	if err != nil {
		return err
	}
	return job.Run(ctx, o.runner)
}

func writeLauncher(module string) (string, error) {
	f, err := os.CreateTemp("", "sparkrun_launcher_*.py")
	if err != nil {
		return "", fmt.Errorf("create launcher script: %w", err)
	}
	body := fmt.Sprintf(launcherTemplate, strconv.Quote(module), strconv.Quote(module))
	if _, err := f.WriteString(body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write launcher script: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close launcher script: %w", err)
	}
	return f.Name(), nil
}
