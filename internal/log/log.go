package log

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

var (
	mu     sync.Mutex
	logger *slog.Logger
)

// Options controls how Setup builds the process-wide logger.
type Options struct {
	// Level is a level name (debug, info, warn, error) or a numeric level in
	// the 10/20/30/40 scale used by [logger] level in sparkrun config files.
	Level string
	// Format is "text" (default) or "json".
	Format string
	// Output defaults to os.Stderr so the job's stdout stays untouched.
	Output io.Writer
}

// Setup initializes the global logger. Invalid levels fall back to INFO.
func Setup(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, hopts)
	} else {
		handler = slog.NewTextHandler(out, hopts)
	}

	l := slog.New(handler)

	mu.Lock()
	logger = l
	mu.Unlock()

	slog.SetDefault(l)
	return l
}

// ParseLevel maps a level name or numeric level onto a slog.Level.
func ParseLevel(level string) slog.Level {
	level = strings.TrimSpace(level)
	if n, err := strconv.Atoi(level); err == nil {
		switch {
		case n <= 10:
			return slog.LevelDebug
		case n <= 20:
			return slog.LevelInfo
		case n <= 30:
			return slog.LevelWarn
		default:
			return slog.LevelError
		}
	}

	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether ParseLevel recognizes level rather than
// defaulting to info.
func ValidLevel(level string) bool {
	level = strings.TrimSpace(level)
	if _, err := strconv.Atoi(level); err == nil {
		return true
	}
	switch strings.ToUpper(level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "CRITICAL":
		return true
	}
	return false
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()

	if l == nil {
		return Setup(Options{Level: "INFO"})
	}
	return l
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithPlugin returns a logger with the plugin field set.
func WithPlugin(name string) *slog.Logger {
	return Get().With(slog.String("plugin", name))
}

// WithRun returns a logger with the run_id field set.
func WithRun(id string) *slog.Logger {
	return Get().With(slog.String("run_id", id))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
