package process

import (
	"os"
	"os/exec"
	"strings"
)

// PythonEnv names the environment variable that overrides interpreter lookup.
const PythonEnv = "SPARKRUN_PYTHON"

// LookPathFunc matches exec.LookPath.
type LookPathFunc func(file string) (string, error)

// FindPython returns $SPARKRUN_PYTHON when set, else the first of python3 and
// python found by lookPath, else "python3".
func FindPython(lookPath LookPathFunc) string {
	if v := strings.TrimSpace(os.Getenv(PythonEnv)); v != "" {
		return v
	}
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := lookPath(name); err == nil {
			return p
		}
	}
	return "python3"
}
