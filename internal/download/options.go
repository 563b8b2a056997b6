package download

import (
	"github.com/mattjoyce/sparkrun/internal/config"
	"github.com/mattjoyce/sparkrun/internal/process"
)

// DefaultSelfPackage is the distribution installed alongside plugins unless
// no-self is set.
const DefaultSelfPackage = "sparkrun"

// Options is the merged option set for one download. List fields hold config
// values first, then explicit values, in order and without deduplication.
type Options struct {
	Python      string
	SelfPackage string
	SelfVersion string

	Plugins           []string
	RequirementsFiles []string
	Constraints       []string
	ExcludePackages   []string
	ExtraIndexURLs    []string
	FindLinks         []string

	// nil means "not given"; an explicit false still overrides config.
	NoIndex       *bool
	NoSelf        *bool
	ForceDownload *bool
	Pre           *bool

	CacheDir  string
	DirPrefix string
	Env       map[string]string

	ConvertToZip bool
	// Debug runs pip pass-through instead of buffered.
	Debug bool
}

// Merge overlays explicit onto the [plugins] and [plugin-env] sections of
// store. Scalar booleans in the result are always non-nil.
func Merge(store *config.Store, explicit Options) Options {
	if store == nil {
		store = config.New(config.DefaultSections...)
	}
	sec := store.Section(config.SectionPlugins)

	out := Options{
		Python:      firstNonEmpty(explicit.Python, sec.String("python", "")),
		SelfPackage: firstNonEmpty(explicit.SelfPackage, sec.String("self-package", ""), DefaultSelfPackage),
		SelfVersion: explicit.SelfVersion,

		Plugins:           concat(sec.List("plugins", nil), explicit.Plugins),
		RequirementsFiles: concat(sec.PathList("requirements-files", nil), explicit.RequirementsFiles),
		Constraints:       concat(sec.PathList("constraints", nil), explicit.Constraints),
		ExcludePackages:   concat(sec.List("exclude-packages", nil), explicit.ExcludePackages),
		ExtraIndexURLs:    concat(sec.List("extra-index-urls", nil), explicit.ExtraIndexURLs),
		FindLinks:         concat(sec.List("find-links", nil), explicit.FindLinks),

		NoIndex:       pickBool(explicit.NoIndex, sec.OptionalBool("no-index")),
		NoSelf:        pickBool(explicit.NoSelf, sec.OptionalBool("no-self")),
		ForceDownload: pickBool(explicit.ForceDownload, sec.OptionalBool("force-download")),
		Pre:           pickBool(explicit.Pre, sec.OptionalBool("pre")),

		CacheDir:  firstNonEmpty(explicit.CacheDir, sec.Path("cache-dir")),
		DirPrefix: firstNonEmpty(explicit.DirPrefix, sec.String("download-dir-prefix", "")),
		Env:       store.Section(config.SectionPluginEnv).Map(),

		ConvertToZip: explicit.ConvertToZip,
		Debug:        explicit.Debug,
	}
	for k, v := range explicit.Env {
		out.Env[k] = v
	}
	if out.Python == "" {
		out.Python = process.FindPython(nil)
	}
	return out
}

// Needed reports whether there is anything to download.
func (o Options) Needed() bool {
	return !isSet(o.NoSelf) || len(o.Plugins) > 0 || len(o.RequirementsFiles) > 0
}

// Bool returns a tri-state value's effective setting.
func Bool(b *bool) bool { return isSet(b) }

func isSet(b *bool) bool { return b != nil && *b }

func pickBool(explicit, configured *bool) *bool {
	v := false
	switch {
	case explicit != nil:
		v = *explicit
	case configured != nil:
		v = *configured
	}
	return &v
}

func concat(configured, explicit []string) []string {
	out := make([]string, 0, len(configured)+len(explicit))
	out = append(out, configured...)
	return append(out, explicit...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
