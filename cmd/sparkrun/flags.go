package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattjoyce/sparkrun/internal/config"
	"github.com/mattjoyce/sparkrun/internal/download"
	"github.com/mattjoyce/sparkrun/internal/spark"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// envAnnotation names the SPARKRUN_* variable read when a flag is not given.
const envAnnotation = "sparkrun_env"

func bindEnv(fs *pflag.FlagSet, flag, env string) {
	_ = fs.SetAnnotation(flag, envAnnotation, []string{env})
}

// applyEnv sets every unchanged flag from its environment variable. Repeatable
// flags split the value on whitespace. Flags set this way count as explicit.
func applyEnv(cmd *cobra.Command) error {
	var firstErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if firstErr != nil || f.Changed {
			return
		}
		names := f.Annotations[envAnnotation]
		if len(names) == 0 {
			return
		}
		raw, ok := os.LookupEnv(names[0])
		if !ok {
			return
		}
		if err := setFromEnv(cmd.Flags(), f, raw); err != nil {
			firstErr = fmt.Errorf("%s: %w", names[0], err)
		}
	})
	return firstErr
}

func setFromEnv(fs *pflag.FlagSet, f *pflag.Flag, raw string) error {
	switch f.Value.Type() {
	case "stringArray":
		for _, v := range strings.Fields(raw) {
			if err := fs.Set(f.Name, v); err != nil {
				return err
			}
		}
		return nil
	case "bool":
		if strings.TrimSpace(raw) == "" {
			return nil
		}
		b, ok := config.ParseBool(raw)
		if !ok {
			return fmt.Errorf("invalid boolean %q", raw)
		}
		return fs.Set(f.Name, strconv.FormatBool(b))
	default:
		return fs.Set(f.Name, raw)
	}
}

// explicitBool returns nil for a flag that was neither given nor set from the
// environment, so configuration decides.
func explicitBool(fs *pflag.FlagSet, name string) *bool {
	if !fs.Changed(name) {
		return nil
	}
	v, err := fs.GetBool(name)
	if err != nil {
		return nil
	}
	return &v
}

// parsePairs turns KEY=VALUE items into a map. A missing '=' yields an empty
// value.
func parsePairs(items []string) map[string]string {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		key, value, _ := strings.Cut(item, "=")
		out[key] = value
	}
	return out
}

type pluginFlags struct {
	plugins      []string
	requirements []string
	constraints  []string
	excludes     []string
	extraIndex   []string
	findLinks    []string
	pluginEnv    []string
}

func (p *pluginFlags) register(fs *pflag.FlagSet) {
	fs.StringArrayVar(&p.plugins, "plugin", nil, "Plugin requirement to download (repeatable, comma separated)")
	fs.StringArrayVar(&p.requirements, "requirements-file", nil, "Requirements file (repeatable)")
	fs.StringArrayVar(&p.constraints, "constraint", nil, "Constraints file (repeatable)")
	fs.StringArrayVar(&p.excludes, "exclude-python-package", nil, "Python package to drop from the downloaded set (repeatable)")
	fs.StringArrayVar(&p.extraIndex, "extra-index-url", nil, "Extra package index URL (repeatable)")
	fs.StringArrayVar(&p.findLinks, "find-links", nil, "Extra location to look for archives (repeatable)")
	fs.Bool("no-index", false, "Ignore the package index")
	fs.Bool("no-self", false, "Do not download the sparkrun package itself")
	fs.Bool("force-download", false, "Bypass the pip cache (pip --no-cache-dir)")
	fs.Bool("pre", false, "Include pre-release versions")
	fs.StringArrayVar(&p.pluginEnv, "plugin-env", nil, "KEY=VALUE environment for pip (repeatable)")

	bindEnv(fs, "plugin", "SPARKRUN_PLUGINS")
	bindEnv(fs, "requirements-file", "SPARKRUN_REQUIREMENT_FILES")
	bindEnv(fs, "constraint", "SPARKRUN_CONSTRAINTS")
	bindEnv(fs, "exclude-python-package", "SPARKRUN_EXCLUDE_PYTHON_PACKAGES")
	bindEnv(fs, "extra-index-url", "SPARKRUN_EXTRA_INDEX_URLS")
	bindEnv(fs, "find-links", "SPARKRUN_FIND_LINKS")
	bindEnv(fs, "no-index", "SPARKRUN_NO_INDEX")
	bindEnv(fs, "no-self", "SPARKRUN_NO_SELF")
	bindEnv(fs, "force-download", "SPARKRUN_FORCE_DOWNLOAD")
	bindEnv(fs, "pre", "SPARKRUN_PRE_RELEASES")
	bindEnv(fs, "plugin-env", "SPARKRUN_PLUGIN_ENVVARS")
}

func (p *pluginFlags) options(fs *pflag.FlagSet) download.Options {
	return download.Options{
		Plugins:           p.plugins,
		RequirementsFiles: p.requirements,
		Constraints:       p.constraints,
		ExcludePackages:   p.excludes,
		ExtraIndexURLs:    p.extraIndex,
		FindLinks:         p.findLinks,
		NoIndex:           explicitBool(fs, "no-index"),
		NoSelf:            explicitBool(fs, "no-self"),
		ForceDownload:     explicitBool(fs, "force-download"),
		Pre:               explicitBool(fs, "pre"),
		Env:               parsePairs(p.pluginEnv),
	}
}

type sparkFlags struct {
	opts  spark.Options
	conf  []string
	envs  []string
	pkgs  []string
	exPkg []string
	repos []string
}

func (s *sparkFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&s.opts.Master, "master", "", "Spark master URL")
	fs.StringVar(&s.opts.DeployMode, "deploy-mode", "", "Deploy mode: client or cluster")
	fs.StringVar(&s.opts.Queue, "queue", "", "YARN queue")
	fs.StringArrayVar(&s.conf, "conf", nil, "Spark property KEY=VALUE (repeatable)")
	fs.StringArrayVar(&s.pkgs, "packages", nil, "Maven coordinates (repeatable)")
	fs.StringArrayVar(&s.exPkg, "exclude-packages", nil, "groupId:artifactId to exclude (repeatable)")
	fs.StringArrayVar(&s.repos, "repositories", nil, "Extra Maven repository (repeatable)")
	fs.StringArrayVar(&s.envs, "env", nil, "KEY=VALUE environment for spark (repeatable)")
	fs.StringVar(&s.opts.PropertiesFile, "properties-file", "", "Spark properties file")
	fs.StringVar(&s.opts.Class, "class", "", "Main class for JVM applications")

	bindEnv(fs, "master", "SPARKRUN_MASTER")
	bindEnv(fs, "deploy-mode", "SPARKRUN_DEPLOY_MODE")
	bindEnv(fs, "queue", "SPARKRUN_QUEUE")
	bindEnv(fs, "conf", "SPARKRUN_CONF")
	bindEnv(fs, "packages", "SPARKRUN_PACKAGES")
	bindEnv(fs, "exclude-packages", "SPARKRUN_EXCLUDE_PACKAGES")
	bindEnv(fs, "repositories", "SPARKRUN_REPOSITORIES")
	bindEnv(fs, "env", "SPARKRUN_ENVVARS")
	bindEnv(fs, "properties-file", "SPARKRUN_PROPERTIES_FILE")
	bindEnv(fs, "class", "SPARKRUN_CLASS")
}

func (s *sparkFlags) registerSubmit(fs *pflag.FlagSet) {
	fs.StringVar(&s.opts.SubmitExecutable, "spark-submit-executable", "", "spark-submit executable")
	bindEnv(fs, "spark-submit-executable", "SPARKRUN_SPARK_SUBMIT_EXECUTABLE")
}

func (s *sparkFlags) registerInteractive(fs *pflag.FlagSet) {
	fs.StringVar(&s.opts.PysparkExecutable, "pyspark-executable", "", "pyspark executable")
	fs.StringVar(&s.opts.InteractiveDriver, "python-interactive-driver", "", "Python driver for the interactive shell (e.g. ipython)")
	bindEnv(fs, "pyspark-executable", "SPARKRUN_PYSPARK_EXECUTABLE")
	bindEnv(fs, "python-interactive-driver", "SPARKRUN_PYTHON_INTERACTIVE_DRIVER")
}

func (s *sparkFlags) options() spark.Options {
	out := s.opts
	out.Conf = s.conf
	out.Packages = s.pkgs
	out.ExcludePackages = s.exPkg
	out.Repositories = s.repos
	out.Env = parsePairs(s.envs)
	return out
}
