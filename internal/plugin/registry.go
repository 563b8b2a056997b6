package plugin

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// Invocation is how a registered plugin is run: Direct or ArgsForwarding.
type Invocation interface {
	invocation()
}

// Direct is a plugin that is already a command with its own flag parsing.
type Direct struct {
	Command *cobra.Command
}

// ArgsForwarding is a plain callable that receives the raw argument list and
// returns an exit code.
type ArgsForwarding struct {
	Run func(ctx context.Context, args []string) (int, error)
}

func (Direct) invocation()         {}
func (ArgsForwarding) invocation() {}

// Entry is one registered plugin.
type Entry struct {
	Name        string
	Version     string
	Description string
	// Source is the plugin directory, or "builtin".
	Source     string
	Invocation Invocation
}

// NotFoundError is returned by Resolve for unknown names.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("plugin %s does not exist", e.Name)
}

// ExitError reports a plugin that exited non-zero.
type ExitError struct {
	Name string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("plugin %s exited with code %d", e.Name, e.Code)
}

// Registry holds plugins indexed by name.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Add registers entry. Names are unique; the first registration wins.
func (r *Registry) Add(entry Entry) error {
	if entry.Name == "" {
		return fmt.Errorf("plugin name is required")
	}
	switch inv := entry.Invocation.(type) {
	case Direct:
		if inv.Command == nil {
			return fmt.Errorf("plugin %q: direct invocation without command", entry.Name)
		}
	case ArgsForwarding:
		if inv.Run == nil {
			return fmt.Errorf("plugin %q: args-forwarding invocation without func", entry.Name)
		}
	default:
		return fmt.Errorf("plugin %q: unknown invocation %T", entry.Name, entry.Invocation)
	}
	if _, exists := r.entries[entry.Name]; exists {
		return fmt.Errorf("plugin %q already registered", entry.Name)
	}
	r.entries[entry.Name] = entry
	return nil
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns all entries sorted by name.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, name := range r.Names() {
		out = append(out, r.entries[name])
	}
	return out
}

// Resolve looks up name.
func (r *Registry) Resolve(name string) (Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, &NotFoundError{Name: name}
	}
	return e, nil
}

// Invoke runs entry with args. A non-zero exit from an args-forwarding plugin
// is reported as *ExitError.
func Invoke(ctx context.Context, entry Entry, args []string) error {
	switch inv := entry.Invocation.(type) {
	case Direct:
		inv.Command.SetArgs(args)
		return inv.Command.ExecuteContext(ctx)
	case ArgsForwarding:
		code, err := inv.Run(ctx, args)
		if err != nil {
			return fmt.Errorf("run plugin %s: %w", entry.Name, err)
		}
		if code != 0 {
			return &ExitError{Name: entry.Name, Code: code}
		}
		return nil
	default:
		return fmt.Errorf("plugin %q: unknown invocation %T", entry.Name, entry.Invocation)
	}
}
