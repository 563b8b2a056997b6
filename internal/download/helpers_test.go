package download

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/sparkrun/internal/config"
)

func boolPtr(b bool) *bool { return &b }

// writeWheel creates a minimal wheel whose METADATA names project.
func writeWheel(t testing.TB, dir, filename, project string) string {
	t.Helper()
	p := filepath.Join(dir, filename)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create wheel: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	distInfo := strings.ReplaceAll(project, "-", "_") + "-1.0.dist-info/"
	files := map[string]string{
		strings.ReplaceAll(project, "-", "_") + "/__init__.py": "",
		distInfo + "METADATA": "Metadata-Version: 2.1\nName: " + project + "\nVersion: 1.0\n\nlong description\nName: not-this\n",
		distInfo + "WHEEL":    "Wheel-Version: 1.0\n",
	}
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return p
}

func loadStore(t *testing.T, ini string) *config.Store {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sparkrun.conf")
	if err := os.WriteFile(p, []byte(ini), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	store, err := config.LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	return store
}
