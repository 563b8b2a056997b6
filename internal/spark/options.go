package spark

import (
	"github.com/mattjoyce/sparkrun/internal/config"
	"github.com/mattjoyce/sparkrun/internal/process"
)

const (
	DefaultSubmitExecutable  = "spark-submit"
	DefaultPysparkExecutable = "pyspark"
)

// Options is the merged Spark option set. Lists are config values followed by
// explicit values; explicit non-empty scalars replace config scalars.
type Options struct {
	SubmitExecutable  string
	PysparkExecutable string
	Python            string
	InteractiveDriver string

	Master          string
	DeployMode      string
	Queue           string
	Conf            []string
	Packages        []string
	ExcludePackages []string
	Repositories    []string
	PropertiesFile  string
	Class           string

	Env map[string]string
}

// Merge overlays explicit onto the [spark] and [spark-env] sections of store.
func Merge(store *config.Store, explicit Options) Options {
	if store == nil {
		store = config.New(config.DefaultSections...)
	}
	sec := store.Section(config.SectionSpark)

	out := Options{
		SubmitExecutable:  pick(explicit.SubmitExecutable, sec.String("spark-submit-executable", ""), DefaultSubmitExecutable),
		PysparkExecutable: pick(explicit.PysparkExecutable, sec.String("pyspark-executable", ""), DefaultPysparkExecutable),
		Python:            pick(explicit.Python, sec.String("python", "")),
		InteractiveDriver: pick(explicit.InteractiveDriver, sec.String("python-interactive-driver", "")),

		Master:          pick(explicit.Master, sec.String("master", "")),
		DeployMode:      pick(explicit.DeployMode, sec.String("deploy-mode", "")),
		Queue:           pick(explicit.Queue, sec.String("queue", "")),
		Conf:            append(sec.List("conf", nil), explicit.Conf...),
		Packages:        append(sec.List("packages", nil), explicit.Packages...),
		ExcludePackages: append(sec.List("exclude-packages", nil), explicit.ExcludePackages...),
		Repositories:    append(sec.List("repositories", nil), explicit.Repositories...),
		PropertiesFile:  pick(explicit.PropertiesFile, sec.Path("properties-file")),
		Class:           pick(explicit.Class, sec.String("class", "")),

		Env: store.Section(config.SectionSparkEnv).Map(),
	}
	for k, v := range explicit.Env {
		out.Env[k] = v
	}
	if out.Python == "" {
		out.Python = process.FindPython(nil)
	}
	return out
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
