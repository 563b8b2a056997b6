// Package config provides the read-only sparkrun configuration store.
//
// The store is loaded once per invocation from an INI file and exposes
// section-scoped views with typed accessors. Missing sections and keys never
// fail: every accessor takes a fallback. Keys are case-sensitive.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Well-known section names.
const (
	SectionPlugins   = "plugins"
	SectionPluginEnv = "plugin-env"
	SectionSpark     = "spark"
	SectionSparkEnv  = "spark-env"
	SectionLogger    = "logger"
	SectionRunner    = "runner"
	SectionJournal   = "journal"
)

// DefaultSections are declared on every store so callers never see a missing
// known section.
var DefaultSections = []string{
	SectionPlugins,
	SectionPluginEnv,
	SectionSpark,
	SectionSparkEnv,
	SectionLogger,
	SectionRunner,
	SectionJournal,
}

// LoadError reports an explicit configuration file that could not be read or
// parsed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("invalid configuration file %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Store maps section name -> key -> raw string value.
type Store struct {
	source   string
	names    []string
	sections map[string]*Section
}

// New returns an empty store with the given sections declared.
func New(defaultSections ...string) *Store {
	s := &Store{sections: make(map[string]*Section)}
	for _, name := range defaultSections {
		s.declare(name)
	}
	return s
}

// Source returns the file the store was loaded from, or "" for an empty store.
func (s *Store) Source() string {
	return s.source
}

// Section returns a scoped view of name. Absent sections yield an empty view.
func (s *Store) Section(name string) Section {
	if sec, ok := s.sections[name]; ok {
		return *sec
	}
	return Section{name: name, values: map[string]string{}}
}

// HasSection reports whether name was present in the file or declared.
func (s *Store) HasSection(name string) bool {
	_, ok := s.sections[name]
	return ok
}

// SectionNames returns section names in file order followed by declared defaults.
func (s *Store) SectionNames() []string {
	return append([]string(nil), s.names...)
}

func (s *Store) declare(name string) *Section {
	if sec, ok := s.sections[name]; ok {
		return sec
	}
	sec := &Section{name: name, values: map[string]string{}}
	s.sections[name] = sec
	s.names = append(s.names, name)
	return sec
}

// DefaultPaths returns the search order used when no explicit path is given:
// the user-level file first, then the system-level file.
func DefaultPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".sparkrunrc"))
	}
	return append(paths, "/etc/sparkrun.conf")
}

// Load reads configuration from path. With an empty path the DefaultPaths are
// searched and an empty store is returned when none exists.
func Load(path string) (*Store, error) {
	if path != "" {
		return LoadFile(path)
	}
	return LoadFirst(DefaultPaths())
}

// LoadFirst loads the first candidate that exists as a regular file. It never
// fails when no candidate exists.
func LoadFirst(candidates []string) (*Store, error) {
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		return LoadFile(candidate)
	}
	return New(DefaultSections...), nil
}

// LoadFile parses a single INI file. Unreadable or unparseable files return a
// *LoadError.
func LoadFile(path string) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, &LoadError{Path: abs, Err: err}
	}
	if info.IsDir() {
		return nil, &LoadError{Path: abs, Err: errors.New("is a directory")}
	}

	f, err := ini.LoadSources(loadOptions, abs)
	if err != nil {
		return nil, &LoadError{Path: abs, Err: err}
	}

	return fromINI(abs, f), nil
}

// Parse reads INI data from memory; source names it in errors.
func Parse(source string, data []byte) (*Store, error) {
	f, err := ini.LoadSources(loadOptions, data)
	if err != nil {
		return nil, &LoadError{Path: source, Err: err}
	}
	return fromINI(source, f), nil
}

var loadOptions = ini.LoadOptions{
	AllowPythonMultilineValues: true,
	SpaceBeforeInlineComment:   true,
	KeyValueDelimiters:         "=:",
}

func fromINI(source string, f *ini.File) *Store {
	s := New()
	s.source = source
	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection && len(sec.Keys()) == 0 {
			continue
		}
		dst := s.declare(sec.Name())
		for _, key := range sec.Keys() {
			dst.set(key.Name(), key.Value())
		}
	}
	for _, name := range DefaultSections {
		s.declare(name)
	}
	return s
}

// Section is a read-only view over one configuration section.
type Section struct {
	name   string
	keys   []string
	values map[string]string
}

func (s *Section) set(key, value string) {
	if _, exists := s.values[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Name returns the section name.
func (s Section) Name() string { return s.name }

// Has reports whether key is present.
func (s Section) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Keys returns keys in file order.
func (s Section) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Map returns a copy of all key/value pairs.
func (s Section) Map() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// String returns the raw value of key, or fallback when absent.
func (s Section) String(key, fallback string) string {
	if v, ok := s.values[key]; ok {
		return v
	}
	return fallback
}

// List splits the value on newlines, trims each line and drops empty lines.
func (s Section) List(key string, fallback []string) []string {
	v, ok := s.values[key]
	if !ok {
		return append([]string(nil), fallback...)
	}
	return splitLines(v)
}

// Path returns key as a filesystem path with a leading ~ expanded, or "".
func (s Section) Path(key string) string {
	v, ok := s.values[key]
	if !ok {
		return ""
	}
	return expandHome(strings.TrimSpace(v))
}

// PathList is List with ~ expansion applied to every entry.
func (s Section) PathList(key string, fallback []string) []string {
	items := s.List(key, fallback)
	for i, item := range items {
		items[i] = expandHome(item)
	}
	return items
}

// Bool accepts 1/yes/true/on and 0/no/false/off (case-insensitive). Absent or
// unrecognized values return fallback.
func (s Section) Bool(key string, fallback bool) bool {
	v, ok := s.values[key]
	if !ok {
		return fallback
	}
	b, ok := ParseBool(v)
	if !ok {
		return fallback
	}
	return b
}

// OptionalBool returns nil when key is absent or unrecognized.
func (s Section) OptionalBool(key string) *bool {
	v, ok := s.values[key]
	if !ok {
		return nil
	}
	b, ok := ParseBool(v)
	if !ok {
		return nil
	}
	return &b
}

// Int parses key as a base-10 integer, returning fallback when absent or invalid.
func (s Section) Int(key string, fallback int) int {
	v, ok := s.values[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

// ParseBool parses the boolean spellings accepted in config files.
func ParseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "yes", "true", "on":
		return true, true
	case "0", "no", "false", "off":
		return false, true
	default:
		return false, false
	}
}

func splitLines(v string) []string {
	var out []string
	for _, line := range strings.Split(v, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
