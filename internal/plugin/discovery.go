package plugin

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/sparkrun/internal/log"
	"github.com/mattjoyce/sparkrun/internal/process"
)

// Discover scans plugin roots for manifest.yaml files and registers every
// valid plugin into registry as an ArgsForwarding entry that runs its
// entrypoint pass-through through runner. Roots are processed in order and
// duplicate names keep the first plugin. Invalid plugins and missing roots are
// logged, not fatal.
func Discover(registry *Registry, roots []string, runner process.Runner) error {
	if runner == nil {
		runner = process.ExecRunner{}
	}
	logger := log.WithComponent("plugin")

	absRoots, err := resolveRoots(roots, logger)
	if err != nil {
		return err
	}

	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			pluginPath := filepath.Dir(path)
			entry, err := loadPlugin(pluginPath, root, runner)
			if err != nil {
				logger.Warn("failed to load plugin", "root", root, "path", pluginPath, "error", err)
				return nil
			}

			if existing, err := registry.Resolve(entry.Name); err == nil {
				logger.Warn("duplicate plugin ignored (keeping first registered)",
					"plugin", entry.Name, "ignored_path", entry.Source, "kept_path", existing.Source)
				return nil
			}
			if err := registry.Add(entry); err != nil {
				logger.Warn("failed to register plugin", "plugin", entry.Name, "error", err)
				return nil
			}

			logger.Debug("loaded plugin", "plugin", entry.Name, "path", entry.Source, "version", entry.Version)
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan plugin root %s: %w", root, err)
		}
	}
	return nil
}

func resolveRoots(roots []string, logger *slog.Logger) ([]string, error) {
	out := make([]string, 0, len(roots))
	seen := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve plugin root %q: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warn("plugin root does not exist", "root", abs)
				continue
			}
			return nil, fmt.Errorf("stat plugin root %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("plugin root is not a directory: %s", abs)
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out, nil
}

// loadPlugin reads, validates and wraps a single plugin.
func loadPlugin(pluginPath, root string, runner process.Runner) (Entry, error) {
	data, err := os.ReadFile(filepath.Join(pluginPath, manifestFilename))
	if err != nil {
		return Entry{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Entry{}, fmt.Errorf("parse manifest YAML: %w", err)
	}
	if err := validateManifest(&m); err != nil {
		return Entry{}, fmt.Errorf("invalid manifest: %w", err)
	}

	entrypoint := filepath.Join(pluginPath, m.Entrypoint)
	if err := validateTrust(entrypoint, pluginPath, root); err != nil {
		return Entry{}, fmt.Errorf("trust validation failed: %w", err)
	}

	env := m.Env
	return Entry{
		Name:        m.Name,
		Version:     m.Version,
		Description: m.Description,
		Source:      pluginPath,
		Invocation: ArgsForwarding{Run: func(ctx context.Context, args []string) (int, error) {
			argv := append([]string{entrypoint}, args...)
			return runner.Run(ctx, process.Spec{Args: argv, Env: env, Dir: pluginPath, Mode: process.PassThrough})
		}},
	}, nil
}

// validateTrust requires the entrypoint to resolve inside both the root and
// the plugin directory, to be executable, and the plugin directory to not be
// world-writable.
func validateTrust(entrypointPath, pluginPath, root string) error {
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("resolve entrypoint symlink: %w", err)
	}
	resolvedPluginPath, err := filepath.EvalSymlinks(pluginPath)
	if err != nil {
		return fmt.Errorf("resolve plugin path symlink: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("resolve plugin root symlink %s: %w", root, err)
	}

	sep := string(os.PathSeparator)
	if !strings.HasPrefix(resolvedEntrypoint, resolvedRoot+sep) {
		return fmt.Errorf("entrypoint %s is not under plugin root %s", resolvedEntrypoint, resolvedRoot)
	}
	if !strings.HasPrefix(resolvedEntrypoint, resolvedPluginPath+sep) {
		return fmt.Errorf("entrypoint %s is not under plugin directory %s", resolvedEntrypoint, resolvedPluginPath)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.IsDir() || info.Mode()&0o111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	pluginInfo, err := os.Stat(resolvedPluginPath)
	if err != nil {
		return fmt.Errorf("plugin directory not found: %w", err)
	}
	if pluginInfo.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("plugin directory is world-writable: %s", resolvedPluginPath)
	}
	return nil
}
