package plugin

import (
	"fmt"
	"regexp"
	"strings"
)

const manifestFilename = "manifest.yaml"

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Manifest is the manifest.yaml of a runner plugin.
type Manifest struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Entrypoint  string            `yaml:"entrypoint"`
	Env         map[string]string `yaml:"env,omitempty"`
}

// validateManifest checks required manifest fields.
func validateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validName.MatchString(m.Name) {
		return fmt.Errorf("invalid name %q", m.Name)
	}
	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}
	return nil
}
