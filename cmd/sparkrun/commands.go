package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/sparkrun/internal/config"
	"github.com/mattjoyce/sparkrun/internal/doctor"
	"github.com/mattjoyce/sparkrun/internal/download"
	"github.com/mattjoyce/sparkrun/internal/journal"
	"github.com/mattjoyce/sparkrun/internal/orchestrate"
	"github.com/mattjoyce/sparkrun/internal/plugin"
	"github.com/mattjoyce/sparkrun/internal/process"
	"github.com/mattjoyce/sparkrun/internal/spark"
	"github.com/mattjoyce/sparkrun/internal/workspace"
	"github.com/spf13/cobra"
)

func newRootCommand(a *app, argv []string) *cobra.Command {
	root := &cobra.Command{
		Use:   "sparkrun",
		Short: "Run PySpark jobs together with their Python dependencies",
		Long: `sparkrun downloads Python plugins and requirements with pip, ships them to
Spark as --py-files and supervises spark-submit or pyspark until it exits.`,
		Version:           currentBuildInfo().Version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := applyEnv(cmd); err != nil {
				return err
			}
			return a.setup(cmd.Context())
		},
	}

	root.SetVersionTemplate("sparkrun {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Path to configuration file")
	pf.BoolVarP(&a.debug, "debug", "d", false, "Debug mode")
	bindEnv(pf, "config", "SPARKRUN_CONFIG")
	bindEnv(pf, "debug", "SPARKRUN_DEBUG")

	a.argv = argv
	root.AddCommand(
		newDownloadCommand(a),
		newSubmitCommand(a),
		newRunCommand(a),
		newShellCommand(a),
		newRunnerCommand(a),
		newDoctorCommand(a),
		newHistoryCommand(a),
		newVersionCommand(),
	)
	return root
}

func newDownloadCommand(a *app) *cobra.Command {
	var (
		pf        pluginFlags
		outputDir string
		convert   bool
		report    string
	)
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download all dependencies and store them in a directory",
		Long: `Download plugins, requirements and the sparkrun package into a directory.
Without --output-dir a temporary directory is created and kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := pf.options(cmd.Flags())
			opts.ConvertToZip = convert
			opts.Debug = a.debug

			res, err := a.orchestrator().Download(cmd.Context(), orchestrate.Request{
				Download:  opts,
				OutputDir: outputDir,
				Argv:      a.argv,
			})
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Fprintln(cmd.ErrOrStderr(), "Nothing to download")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Packages directory: %s\n", res.Dir)
			return writeReport(cmd, res, report)
		},
	}
	fs := cmd.Flags()
	pf.register(fs)
	fs.StringVarP(&outputDir, "output-dir", "o", "", "Directory to download into (kept and locked while in use)")
	fs.BoolVarP(&convert, "convert-to-zip", "z", false, "Rename downloaded wheels to .zip")
	fs.StringVar(&report, "report", "", `Write a YAML artifact report to this file ("-" for stdout)`)
	bindEnv(fs, "output-dir", "SPARKRUN_OUTPUT_DIR")
	return cmd
}

func writeReport(cmd *cobra.Command, res download.Result, path string) error {
	switch path {
	case "":
		return nil
	case "-":
		return res.WriteReport(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := res.WriteReport(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

// jobCommand is the shared shape of submit, run and shell.
type jobCommand struct {
	plugins   pluginFlags
	spark     sparkFlags
	outputDir string
}

func (j *jobCommand) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	j.plugins.register(fs)
	j.spark.register(fs)
	fs.StringVarP(&j.outputDir, "output-dir", "o", "", "Persistent artifact directory instead of a temporary one")
	bindEnv(fs, "output-dir", "SPARKRUN_OUTPUT_DIR")
}

func (j *jobCommand) request(a *app, cmd *cobra.Command, args []string) orchestrate.Request {
	opts := j.plugins.options(cmd.Flags())
	opts.Debug = a.debug
	return orchestrate.Request{
		Download:  opts,
		Spark:     j.spark.options(),
		OutputDir: j.outputDir,
		JobArgs:   args,
		Argv:      a.argv,
	}
}

func newSubmitCommand(a *app) *cobra.Command {
	var j jobCommand
	cmd := &cobra.Command{
		Use:   "submit [flags] [job args...]",
		Short: "Download dependencies and run spark-submit",
		Long: `Download dependencies, then run spark-submit with them as --py-files.
Flag parsing stops at the first job argument; everything after it is passed
to spark-submit unchanged.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.orchestrator().Submit(cmd.Context(), j.request(a, cmd, args))
		},
	}
	j.register(cmd)
	j.spark.registerSubmit(cmd.Flags())
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newRunCommand(a *app) *cobra.Command {
	var j jobCommand
	cmd := &cobra.Command{
		Use:   "run [flags] [plugin [args...]]",
		Short: "Submit a Spark job defined by a sparkrun plugin",
		Long: `Like submit, but the application is a launcher for the runner module of the
sparkrun Python package ([spark] runner-module). Job arguments usually name
the plugin to run followed by its arguments.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.orchestrator().Run(cmd.Context(), j.request(a, cmd, args))
		},
	}
	j.register(cmd)
	j.spark.registerSubmit(cmd.Flags())
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newShellCommand(a *app) *cobra.Command {
	var j jobCommand
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Download dependencies and start an interactive pyspark session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.orchestrator().Interactive(cmd.Context(), j.request(a, cmd, nil))
		},
	}
	j.register(cmd)
	j.spark.registerInteractive(cmd.Flags())
	return cmd
}

func newRunnerCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runner [name [args...]]",
		Short: "List or invoke sparkrun plugins",
		Long: `Without arguments, list the registered plugins. Otherwise invoke the named
plugin with the remaining arguments. Plugins are discovered from manifest.yaml
files under [runner] plugin-roots.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Fprint(cmd.OutOrStdout(), formatPlugins(reg.Entries()))
				return nil
			}
			return a.orchestrator().RunPlugin(cmd.Context(), reg, args[0], args[1:], a.argv)
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// registry builds the plugin registry: builtins first, then discovered
// plugins in root order.
func (a *app) registry() (*plugin.Registry, error) {
	reg := plugin.NewRegistry()
	if err := reg.Add(plugin.Entry{
		Name:        "py-files",
		Version:     currentBuildInfo().Version,
		Description: "Print the --py-files list spark would receive for artifact directories",
		Source:      "builtin",
		Invocation:  plugin.Direct{Command: newPyFilesCommand()},
	}); err != nil {
		return nil, err
	}

	roots := a.store.Section(config.SectionRunner).PathList("plugin-roots", nil)
	if err := plugin.Discover(reg, roots, process.ExecRunner{}); err != nil {
		return nil, err
	}
	return reg, nil
}

func newPyFilesCommand() *cobra.Command {
	var join bool
	cmd := &cobra.Command{
		Use:           "py-files DIR...",
		Short:         "Print the .egg, .whl and .zip files found under DIR",
		Args:          cobra.MinimumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := spark.PyFiles(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if join {
				if len(files) > 0 {
					fmt.Fprintln(out, strings.Join(files, ","))
				}
				return nil
			}
			for _, f := range files {
				fmt.Fprintln(out, f)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&join, "join", false, "Print a single comma-separated line")
	return cmd
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF"))
	nameStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

func formatPlugins(entries []plugin.Entry) string {
	if len(entries) == 0 {
		return "No plugins registered.\n"
	}
	nameWidth := len("PLUGIN")
	for _, e := range entries {
		nameWidth = max(nameWidth, len(e.Name))
	}
	col := lipgloss.NewStyle().Width(nameWidth + 2)

	var b strings.Builder
	b.WriteString(headerStyle.Render(col.Render("PLUGIN") + "DESCRIPTION"))
	b.WriteString("\n")
	for _, e := range entries {
		b.WriteString(nameStyle.Render(col.Render(e.Name)))
		b.WriteString(e.Description)
		if e.Version != "" || e.Source != "" {
			b.WriteString(" " + mutedStyle.Render(fmt.Sprintf("(%s %s)", e.Version, e.Source)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func newDoctorCommand(a *app) *cobra.Command {
	var (
		jsonOut bool
		prune   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration and the local toolchain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.registry()
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "plugin discovery failed: %v\n", err)
			}
			res := doctor.New(a.store, reg, nil).Validate()

			if jsonOut {
				out, err := doctor.FormatJSON(res)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			} else {
				fmt.Fprint(cmd.OutOrStdout(), doctor.FormatHuman(res))
			}

			if prune > 0 {
				prefix := a.store.Section(config.SectionPlugins).String("download-dir-prefix", workspace.DefaultPrefix)
				mgr, err := workspace.NewFSManager("", prefix)
				if err != nil {
					return err
				}
				report, err := mgr.Prune(cmd.Context(), prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "pruned %d stale artifact director(ies)\n", report.DeletedDirs)
			}

			if !res.Valid {
				return errSilent
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the report as JSON")
	cmd.Flags().DurationVar(&prune, "prune-older-than", 0, "Also remove temporary artifact directories older than this (e.g. 24h)")
	return cmd
}

func newHistoryCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs from the run journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.journal == nil {
				return errors.New("run journal is not configured (set [journal] path)")
			}
			runs, err := a.journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			writeHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func newVersionCommand() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Version output never depends on configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := currentBuildInfo()
			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("render version JSON: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			fmt.Fprintf(out, "sparkrun %s\n", info.Version)
			fmt.Fprintf(out, "commit: %s\n", info.Commit)
			fmt.Fprintf(out, "built_at: %s\n", info.BuildTime)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output version metadata as JSON")
	return cmd
}

// exitLabel renders a journal exit code; signaled children show the signal.
func exitLabel(code *int) string {
	switch {
	case code == nil:
		return "running"
	case *code < 0:
		return "signal " + strconv.Itoa(-*code)
	default:
		return strconv.Itoa(*code)
	}
}

func writeHistory(w io.Writer, runs []journal.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	started := lipgloss.NewStyle().Width(21)
	command := lipgloss.NewStyle().Width(18).MaxHeight(1)
	exit := lipgloss.NewStyle().Width(11)
	artifacts := lipgloss.NewStyle().Width(11)

	fmt.Fprintln(w, headerStyle.Render(
		started.Render("STARTED")+command.Render("COMMAND")+exit.Render("EXIT")+artifacts.Render("ARTIFACTS")+"ID"))
	for _, r := range runs {
		code := exit.Render(exitLabel(r.ExitCode))
		if r.ExitCode != nil && *r.ExitCode != 0 {
			code = failStyle.Render(code)
		}
		fmt.Fprintln(w,
			started.Render(r.StartedAt.Local().Format("2006-01-02 15:04:05"))+
				command.Render(r.Command)+
				code+
				artifacts.Render(strconv.Itoa(r.Artifacts))+
				mutedStyle.Render(r.ID))
		if r.Error != "" {
			fmt.Fprintln(w, "  "+mutedStyle.Render(r.Error))
		}
	}
}
