package download

import (
	"net/url"
	"strings"
)

// BuildCommand assembles the pip download invocation targeting dir.
func (o Options) BuildCommand(dir string) []string {
	args := []string{o.Python, "-m", "pip", "download", "-d", dir}

	if isSet(o.ForceDownload) {
		args = append(args, "--no-cache-dir")
	} else if o.CacheDir != "" {
		args = append(args, "--cache-dir", o.CacheDir)
	}

	if isSet(o.Pre) {
		args = append(args, "--pre")
	}

	for _, u := range o.ExtraIndexURLs {
		args = append(args, "--extra-index-url", u, "--trusted-host", hostname(u))
	}
	for _, f := range o.FindLinks {
		args = append(args, "--find-links", f)
	}
	if isSet(o.NoIndex) {
		args = append(args, "--no-index")
	}

	if !isSet(o.NoSelf) {
		args = append(args, o.selfRequirement())
	}
	for _, p := range o.Plugins {
		args = append(args, SplitPluginSpec(p)...)
	}
	for _, r := range o.RequirementsFiles {
		args = append(args, "-r", r)
	}
	for _, c := range o.Constraints {
		args = append(args, "-c", c)
	}

	return append(args, "--exists-action", "i")
}

func (o Options) selfRequirement() string {
	name := firstNonEmpty(o.SelfPackage, DefaultSelfPackage)
	if o.SelfVersion == "" {
		return name
	}
	return name + "==" + o.SelfVersion
}

// SplitPluginSpec splits a comma-combined spec such as "a[x,y]>=1,b==2" into
// its requirements. Commas inside [extras] do not split. A spec without
// top-level commas is returned unchanged.
func SplitPluginSpec(spec string) []string {
	if !strings.Contains(spec, ",") {
		return []string{spec}
	}

	var out []string
	depth := 0
	start := 0
	for i, r := range spec {
		switch r {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out = appendSpec(out, spec[start:i])
				start = i + 1
			}
		}
	}
	return appendSpec(out, spec[start:])
}

func appendSpec(out []string, part string) []string {
	if part = strings.TrimSpace(part); part != "" {
		out = append(out, part)
	}
	return out
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
