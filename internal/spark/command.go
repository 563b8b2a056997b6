package spark

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

var pyFileExts = map[string]bool{".egg": true, ".whl": true, ".zip": true}

// BuildSubmit assembles the spark-submit argument vector. Job arguments are
// appended last, unmodified.
func BuildSubmit(opts Options, artifactDirs, jobArgs []string) ([]string, error) {
	args := append([]string{opts.SubmitExecutable}, commonArgs(opts)...)

	if opts.PropertiesFile != "" {
		args = append(args, "--properties-file", opts.PropertiesFile)
	}
	if opts.Class != "" {
		args = append(args, "--class", opts.Class)
	}

	args, err := appendPyFiles(args, artifactDirs)
	if err != nil {
		return nil, err
	}
	return append(args, jobArgs...), nil
}

// BuildInteractive assembles the pyspark argument vector.
func BuildInteractive(opts Options, artifactDirs []string) ([]string, error) {
	args := append([]string{opts.PysparkExecutable}, commonArgs(opts)...)
	return appendPyFiles(args, artifactDirs)
}

func commonArgs(opts Options) []string {
	var args []string
	if opts.Master != "" {
		args = append(args, "--master", opts.Master)
	}
	if opts.DeployMode != "" {
		args = append(args, "--deploy-mode", opts.DeployMode)
	}
	if opts.Queue != "" {
		args = append(args, "--queue", opts.Queue)
	}
	for _, c := range opts.Conf {
		args = append(args, "--conf", c)
	}
	if len(opts.Packages) > 0 {
		args = append(args, "--packages", strings.Join(opts.Packages, ","))
	}
	if len(opts.ExcludePackages) > 0 {
		args = append(args, "--exclude-packages", strings.Join(opts.ExcludePackages, ","))
	}
	if len(opts.Repositories) > 0 {
		args = append(args, "--repositories", strings.Join(opts.Repositories, ","))
	}
	return args
}

func appendPyFiles(args, dirs []string) ([]string, error) {
	files, err := PyFiles(dirs)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return args, nil
	}
	return append(args, "--py-files", strings.Join(files, ",")), nil
}

// PyFiles lists .egg, .whl and .zip files under each directory, in directory
// order and lexical walk order within a directory, as absolute paths.
func PyFiles(dirs []string) ([]string, error) {
	var out []string
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve artifact directory %q: %w", dir, err)
		}
		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.Type().IsRegular() && pyFileExts[filepath.Ext(path)] {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan artifact directory %q: %w", dir, err)
		}
	}
	return out, nil
}

// Env returns the child environment overlay. Declared pairs win over the
// interpreter defaults.
func Env(opts Options, interactive bool) map[string]string {
	driver := opts.Python
	if interactive && opts.InteractiveDriver != "" {
		driver = opts.InteractiveDriver
	}
	env := map[string]string{
		"PYSPARK_PYTHON":        opts.Python,
		"PYSPARK_DRIVER_PYTHON": driver,
	}
	for k, v := range opts.Env {
		env[k] = v
	}
	return env
}
