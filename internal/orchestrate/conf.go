package orchestrate

import (
	"strings"

	"github.com/mattjoyce/sparkrun/internal/config"
	"github.com/mattjoyce/sparkrun/internal/spark"
)

const confPrefix = "sparkrun."

// peelSparkConf merges the Spark options and moves every sparkrun.* --conf
// entry into the download options. List keys append; boolean keys set an
// explicit value; plugin-env adds one K=V pair.
func (o *Orchestrator) peelSparkConf(req Request) (Request, spark.Options) {
	sparkOpts := spark.Merge(o.store, req.Spark)

	dl := req.Download
	dl.Env = copyEnv(dl.Env)

	kept := make([]string, 0, len(sparkOpts.Conf))
	for _, entry := range sparkOpts.Conf {
		if !strings.HasPrefix(entry, confPrefix) {
			kept = append(kept, entry)
			continue
		}
		key, value, _ := strings.Cut(strings.TrimPrefix(entry, confPrefix), "=")
		switch key {
		case "plugins":
			dl.Plugins = append(dl.Plugins, value)
		case "requirements-file":
			dl.RequirementsFiles = append(dl.RequirementsFiles, value)
		case "constraints":
			dl.Constraints = append(dl.Constraints, value)
		case "exclude-python-packages":
			dl.ExcludePackages = append(dl.ExcludePackages, value)
		case "extra-index-url":
			dl.ExtraIndexURLs = append(dl.ExtraIndexURLs, value)
		case "find-links":
			dl.FindLinks = append(dl.FindLinks, value)
		case "no-index":
			dl.NoIndex = confBool(value)
		case "no-self":
			dl.NoSelf = confBool(value)
		case "force-download":
			dl.ForceDownload = confBool(value)
		case "pre-releases":
			dl.Pre = confBool(value)
		case "plugin-env":
			if k, v, ok := strings.Cut(value, "="); ok {
				dl.Env[k] = v
			} else {
				o.logger.Warn("ignoring malformed sparkrun.plugin-env", "value", value)
			}
		default:
			o.logger.Warn("ignoring unknown sparkrun conf key", "key", confPrefix+key)
		}
	}
	sparkOpts.Conf = kept
	req.Download = dl
	return req, sparkOpts
}

func confBool(value string) *bool {
	b, ok := config.ParseBool(value)
	if !ok {
		b = false
	}
	return &b
}

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
