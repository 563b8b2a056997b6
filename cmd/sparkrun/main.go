package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/sparkrun/internal/config"
	"github.com/mattjoyce/sparkrun/internal/journal"
	"github.com/mattjoyce/sparkrun/internal/log"
	"github.com/mattjoyce/sparkrun/internal/orchestrate"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

// runCLI executes one sparkrun invocation and returns the process exit status.
func runCLI(cliArgs []string) int {
	a := &app{}
	defer a.close()

	// Signals cancel the invocation instead of killing it, so artifact
	// directories are released. A running child still receives them through
	// the supervisor.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(a, cliArgs)
	root.SetArgs(cliArgs)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if !errors.Is(err, errSilent) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitStatus(orchestrate.ExitCode(err))
}

// errSilent marks failures already reported to the user.
var errSilent = errors.New("already reported")

// exitStatus maps a child exit code onto a shell status. Children killed by a
// signal report -signum and become 128+signum.
func exitStatus(code int) int {
	if code < 0 {
		return 128 - code
	}
	return code
}

// app holds the state shared by every subcommand of one invocation.
type app struct {
	configPath string
	debug      bool
	// argv is recorded in the run journal.
	argv       []string

	store   *config.Store
	journal *journal.Journal
}

// setup loads configuration, initializes logging and opens the journal.
func (a *app) setup(ctx context.Context) error {
	store, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.store = store

	logSec := store.Section(config.SectionLogger)
	level := logSec.String("level", "info")
	if a.debug {
		level = "debug"
	}
	logger := log.Setup(log.Options{Level: level, Format: logSec.String("format", "text")})
	if store.Source() != "" {
		logger.Debug("configuration loaded", "path", store.Source())
	}

	if path := store.Section(config.SectionJournal).Path("path"); path != "" {
		j, err := journal.Open(ctx, path)
		if err != nil {
			logger.Warn("run journal unavailable", "path", path, "error", err)
		} else {
			a.journal = j
		}
	}
	return nil
}

func (a *app) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			log.Warn("failed to close run journal", "error", err)
		}
		a.journal = nil
	}
}

func (a *app) orchestrator() *orchestrate.Orchestrator {
	opts := []orchestrate.Option{orchestrate.WithSelfVersion(selfVersion())}
	if a.journal != nil {
		opts = append(opts, orchestrate.WithJournal(a.journal))
	}
	return orchestrate.New(a.store, opts...)
}

// selfVersion pins the downloaded sparkrun package to this build. Development
// builds are never published, so they download the latest release instead.
func selfVersion() string {
	v := currentBuildInfo().Version
	if strings.HasSuffix(v, "-dev") {
		return ""
	}
	return v
}

// buildInfo is printed by `sparkrun version`. Linker-set values win over the
// VCS stamps embedded by the go command.
type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func currentBuildInfo() buildInfo {
	vcs := map[string]string{}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			vcs[s.Key] = s.Value
		}
	}

	info := buildInfo{
		Version:   cmp.Or(strings.TrimSpace(version), "0.0.0-dev"),
		Commit:    cmp.Or(known(gitCommit), known(vcs["vcs.revision"]), "unknown"),
		BuildTime: "unknown",
	}
	info.Commit = info.Commit[:min(len(info.Commit), 12)]
	if t, err := time.Parse(time.RFC3339Nano, cmp.Or(known(buildDate), vcs["vcs.time"])); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

// known blanks the "unknown" placeholder.
func known(v string) string {
	v = strings.TrimSpace(v)
	if v == "unknown" {
		return ""
	}
	return v
}
