// Package doctor validates sparkrun configuration and the local toolchain.
package doctor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/sparkrun/internal/config"
	"github.com/mattjoyce/sparkrun/internal/log"
	"github.com/mattjoyce/sparkrun/internal/plugin"
	"github.com/mattjoyce/sparkrun/internal/process"
	"github.com/mattjoyce/sparkrun/internal/spark"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Source   string  `json:"source,omitempty"`
	Passed   []Issue `json:"passed,omitempty"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single check outcome.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration store.
type Doctor struct {
	store    *config.Store
	registry *plugin.Registry
	lookPath process.LookPathFunc
}

// New creates a Doctor. registry may be nil; a nil lookPath uses exec.LookPath.
func New(store *config.Store, registry *plugin.Registry, lookPath process.LookPathFunc) *Doctor {
	if store == nil {
		store = config.New(config.DefaultSections...)
	}
	return &Doctor{store: store, registry: registry, lookPath: lookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true, Source: d.store.Source()}

	d.checkSource(r)
	d.checkScalars(r)
	d.checkPython(r)
	d.checkSpark(r)
	d.checkFiles(r)
	d.checkIndexURLs(r)
	d.checkCacheDir(r)
	d.checkPluginRoots(r)
	d.checkJournal(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addPass(r *Result, category, field, msg string) {
	r.Passed = append(r.Passed, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) checkSource(r *Result) {
	if d.store.Source() == "" {
		d.addWarning(r, "config", "", "no configuration file found; using defaults")
		return
	}
	d.addPass(r, "config", "", "loaded "+d.store.Source())
}

// checkScalars flags values that accessors would silently replace with fallbacks.
func (d *Doctor) checkScalars(r *Result) {
	plugins := d.store.Section(config.SectionPlugins)
	for _, key := range []string{"no-index", "no-self", "force-download", "pre"} {
		if !plugins.Has(key) {
			continue
		}
		if _, ok := config.ParseBool(plugins.String(key, "")); !ok {
			d.addWarning(r, "config", "plugins."+key,
				fmt.Sprintf("%q is not a boolean; treated as false", plugins.String(key, "")))
		}
	}

	logger := d.store.Section(config.SectionLogger)
	if logger.Has("level") && !log.ValidLevel(logger.String("level", "")) {
		d.addWarning(r, "config", "logger.level",
			fmt.Sprintf("unknown level %q; using info", logger.String("level", "")))
	}
}

func (d *Doctor) checkPython(r *Result) {
	python := d.store.Section(config.SectionPlugins).String("python", "")
	if python == "" {
		python = process.FindPython(d.lookPath)
	}
	if p, err := d.look(python); err != nil {
		d.addError(r, "python", "plugins.python", fmt.Sprintf("interpreter %q not found", python))
	} else {
		d.addPass(r, "python", "plugins.python", p)
	}
}

func (d *Doctor) checkSpark(r *Result) {
	sec := d.store.Section(config.SectionSpark)
	for _, exe := range []struct{ key, fallback string }{
		{"spark-submit-executable", spark.DefaultSubmitExecutable},
		{"pyspark-executable", spark.DefaultPysparkExecutable},
	} {
		name := sec.String(exe.key, exe.fallback)
		if p, err := d.look(name); err != nil {
			d.addWarning(r, "spark", "spark."+exe.key, fmt.Sprintf("%q not found on PATH", name))
		} else {
			d.addPass(r, "spark", "spark."+exe.key, p)
		}
	}
}

func (d *Doctor) checkFiles(r *Result) {
	sec := d.store.Section(config.SectionPlugins)
	for _, key := range []string{"requirements-files", "constraints"} {
		for _, p := range sec.PathList(key, nil) {
			info, err := os.Stat(p)
			switch {
			case err != nil:
				d.addError(r, "plugins", "plugins."+key, fmt.Sprintf("%s: %v", p, err))
			case info.IsDir():
				d.addError(r, "plugins", "plugins."+key, p+" is a directory")
			}
		}
	}
	if props := d.store.Section(config.SectionSpark).Path("properties-file"); props != "" {
		if _, err := os.Stat(props); err != nil {
			d.addError(r, "spark", "spark.properties-file", fmt.Sprintf("%s: %v", props, err))
		}
	}
}

func (d *Doctor) checkIndexURLs(r *Result) {
	for _, raw := range d.store.Section(config.SectionPlugins).List("extra-index-urls", nil) {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			d.addError(r, "plugins", "plugins.extra-index-urls", fmt.Sprintf("%q has no host for --trusted-host", raw))
		}
	}
}

func (d *Doctor) checkCacheDir(r *Result) {
	dir := d.store.Section(config.SectionPlugins).Path("cache-dir")
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.addError(r, "plugins", "plugins.cache-dir", fmt.Sprintf("cannot create %s: %v", dir, err))
		return
	}
	f, err := os.CreateTemp(dir, ".sparkrun-doctor-*")
	if err != nil {
		d.addError(r, "plugins", "plugins.cache-dir", fmt.Sprintf("%s is not writable: %v", dir, err))
		return
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	d.addPass(r, "plugins", "plugins.cache-dir", dir+" is writable")
}

func (d *Doctor) checkPluginRoots(r *Result) {
	for _, root := range d.store.Section(config.SectionRunner).PathList("plugin-roots", nil) {
		info, err := os.Stat(root)
		switch {
		case os.IsNotExist(err):
			d.addWarning(r, "runner", "runner.plugin-roots", root+" does not exist")
		case err != nil:
			d.addError(r, "runner", "runner.plugin-roots", fmt.Sprintf("%s: %v", root, err))
		case !info.IsDir():
			d.addError(r, "runner", "runner.plugin-roots", root+" is not a directory")
		}
	}
	if d.registry != nil {
		d.addPass(r, "runner", "", fmt.Sprintf("%d plugin(s) registered", len(d.registry.Names())))
	}
}

func (d *Doctor) checkJournal(r *Result) {
	path := d.store.Section(config.SectionJournal).Path("path")
	if path == "" {
		return
	}
	parent := filepath.Dir(path)
	if info, err := os.Stat(parent); err == nil && !info.IsDir() {
		d.addError(r, "journal", "journal.path", parent+" is not a directory")
	}
}

func (d *Doctor) look(name string) (string, error) {
	if d.lookPath == nil {
		return exec.LookPath(name)
	}
	return d.lookPath(name)
}

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// FormatHuman returns a styled, human-readable report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case !r.Valid:
		b.WriteString(titleStyle.Render(fmt.Sprintf("sparkrun doctor: %d error(s), %d warning(s)", len(r.Errors), len(r.Warnings))))
	case len(r.Warnings) > 0:
		b.WriteString(titleStyle.Render(fmt.Sprintf("sparkrun doctor: ok (%d warning(s))", len(r.Warnings))))
	default:
		b.WriteString(titleStyle.Render("sparkrun doctor: ok"))
	}
	b.WriteString("\n")

	write := func(label lipgloss.Style, tag string, issues []Issue) {
		for _, is := range issues {
			b.WriteString("  ")
			b.WriteString(label.Render(tag))
			b.WriteString(" ")
			b.WriteString(dimStyle.Render("[" + is.Category + "]"))
			if is.Field != "" {
				b.WriteString(" " + is.Field + ":")
			}
			b.WriteString(" " + is.Message + "\n")
		}
	}
	write(okStyle, "OK   ", r.Passed)
	write(errStyle, "ERROR", r.Errors)
	write(warnStyle, "WARN ", r.Warnings)

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
