package download

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// Artifact is one file in the artifact directory.
type Artifact struct {
	Name    string `yaml:"name"`
	Project string `yaml:"project,omitempty"`
	Path    string `yaml:"path"`
	Size    int64  `yaml:"size"`
	Digest  string `yaml:"blake3"`
}

// Collect describes every regular, non-hidden file at the top of dir, sorted
// by name.
func Collect(dir string) ([]Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read artifact directory: %w", err)
	}

	var out []Artifact
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p := filepath.Join(dir, e.Name())
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		digest, err := digestFile(p)
		if err != nil {
			return nil, err
		}

		a := Artifact{Name: e.Name(), Path: p, Size: info.Size(), Digest: digest}
		if ext := filepath.Ext(e.Name()); ext == ".whl" || ext == ".zip" {
			if name, err := WheelName(p); err == nil {
				a.Project = NormalizeName(name)
			}
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteReport renders the result as YAML.
func (r Result) WriteReport(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}
