package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"

	"github.com/mattjoyce/sparkrun/internal/process"
	"github.com/mattjoyce/sparkrun/internal/process/mocks"
)

func writePlugin(t *testing.T, root, dirName, manifest string, entrypointMode os.FileMode) string {
	t.Helper()
	pluginDir := filepath.Join(root, dirName)
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, manifestFilename), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if entrypointMode != 0 {
		if err := os.WriteFile(filepath.Join(pluginDir, "run.sh"), []byte("#!/bin/sh\necho ok\n"), entrypointMode); err != nil {
			t.Fatalf("write entrypoint: %v", err)
		}
	}
	return pluginDir
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name      string
		setupFn   func(t *testing.T) string // returns plugin root
		wantNames []string
	}{
		{
			name: "valid plugin discovered",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "etl", "name: etl\nversion: 1.0.0\nentrypoint: run.sh\n", 0o755)
				return dir
			},
			wantNames: []string{"etl"},
		},
		{
			name: "multiple plugins sorted",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "b", "name: zeta\nentrypoint: run.sh\n", 0o755)
				writePlugin(t, dir, "a", "name: alpha\nentrypoint: run.sh\n", 0o755)
				return dir
			},
			wantNames: []string{"alpha", "zeta"},
		},
		{
			name: "nested plugin directories",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, filepath.Join("team", "report"), "name: report\nentrypoint: run.sh\n", 0o755)
				return dir
			},
			wantNames: []string{"report"},
		},
		{
			name: "directory without manifest skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				_ = os.Mkdir(filepath.Join(dir, "no-manifest"), 0o755)
				return dir
			},
		},
		{
			name: "non-executable entrypoint skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "non-exec", "name: non-exec\nentrypoint: run.sh\n", 0o644)
				return dir
			},
		},
		{
			name: "missing entrypoint skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "missing", "name: missing\nentrypoint: run.sh\n", 0)
				return dir
			},
		},
		{
			name: "path traversal skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "escape", "name: escape\nentrypoint: ../run.sh\n", 0o755)
				return dir
			},
		},
		{
			name: "world-writable plugin dir skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				p := writePlugin(t, dir, "open", "name: open\nentrypoint: run.sh\n", 0o755)
				if err := os.Chmod(p, 0o777); err != nil {
					t.Fatalf("chmod: %v", err)
				}
				return dir
			},
		},
		{
			name: "symlinked entrypoint outside plugin dir skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				outside := filepath.Join(t.TempDir(), "evil.sh")
				if err := os.WriteFile(outside, []byte("#!/bin/sh\n"), 0o755); err != nil {
					t.Fatalf("write: %v", err)
				}
				p := writePlugin(t, dir, "link", "name: link\nentrypoint: run.sh\n", 0)
				if err := os.Symlink(outside, filepath.Join(p, "run.sh")); err != nil {
					t.Fatalf("symlink: %v", err)
				}
				return dir
			},
		},
		{
			name: "invalid yaml skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "bad", "name: [unterminated\n", 0o755)
				return dir
			},
		},
		{
			name: "duplicate name keeps first",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "a", "name: dup\nversion: first\nentrypoint: run.sh\n", 0o755)
				writePlugin(t, dir, "b", "name: dup\nversion: second\nentrypoint: run.sh\n", 0o755)
				return dir
			},
			wantNames: []string{"dup"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := tt.setupFn(t)
			reg := NewRegistry()
			if err := Discover(reg, []string{root}, process.ExecRunner{}); err != nil {
				t.Fatalf("Discover() error = %v", err)
			}
			got := reg.Names()
			if len(got) != len(tt.wantNames) {
				t.Fatalf("Names() = %v, want %v", got, tt.wantNames)
			}
			for i := range got {
				if got[i] != tt.wantNames[i] {
					t.Fatalf("Names() = %v, want %v", got, tt.wantNames)
				}
			}
		})
	}
}

func TestDiscoverDuplicateKeepsFirstVersion(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "a", "name: dup\nversion: first\nentrypoint: run.sh\n", 0o755)
	writePlugin(t, dir, "b", "name: dup\nversion: second\nentrypoint: run.sh\n", 0o755)

	reg := NewRegistry()
	if err := Discover(reg, []string{dir}, nil); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	e, err := reg.Resolve("dup")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if e.Version != "first" {
		t.Fatalf("Version = %q, want first", e.Version)
	}
}

func TestDiscoverRoots(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writePlugin(t, first, "p", "name: shared\nversion: from-first\nentrypoint: run.sh\n", 0o755)
	writePlugin(t, second, "p", "name: shared\nversion: from-second\nentrypoint: run.sh\n", 0o755)
	writePlugin(t, second, "q", "name: only-second\nentrypoint: run.sh\n", 0o755)

	reg := NewRegistry()
	missing := filepath.Join(t.TempDir(), "missing")
	if err := Discover(reg, []string{first, "", missing, second, first}, nil); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	e, _ := reg.Resolve("shared")
	if e.Version != "from-first" {
		t.Fatalf("shared version = %q, want from-first", e.Version)
	}
	if _, err := reg.Resolve("only-second"); err != nil {
		t.Fatalf("only-second not registered: %v", err)
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Discover(NewRegistry(), []string{file}, nil); err == nil {
		t.Fatalf("expected error for non-directory root")
	}
}

func TestDiscoveredPluginRunsEntrypoint(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	pluginDir := writePlugin(t, dir, "etl", "name: etl\nentrypoint: run.sh\nenv:\n  MODE: batch\n", 0o755)
	resolvedDir, err := filepath.Abs(pluginDir)
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}

	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), process.Spec{
		Args: []string{filepath.Join(resolvedDir, "run.sh"), "--date", "2024-01-01"},
		Env:  map[string]string{"MODE": "batch"},
		Dir:  resolvedDir,
		Mode: process.PassThrough,
	}).Return(3, nil)

	reg := NewRegistry()
	if err := Discover(reg, []string{dir}, runner); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	entry, err := reg.Resolve("etl")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, ok := entry.Invocation.(ArgsForwarding); !ok {
		t.Fatalf("Invocation = %T, want ArgsForwarding", entry.Invocation)
	}

	err = Invoke(context.Background(), entry, []string{"--date", "2024-01-01"})
	exitErr, ok := err.(*ExitError)
	if !ok {
		t.Fatalf("Invoke() error = %v, want *ExitError", err)
	}
	if exitErr.Code != 3 || exitErr.Name != "etl" {
		t.Fatalf("ExitError = %+v", exitErr)
	}
}
