// Package logger configures the process-wide slog logger.
//
// Two formats are supported: "simple" renders level, message, and key=value
// attributes on one line (colored when the output is a terminal), "verbose"
// uses the stock slog text handler with timestamps and source locations.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	FormatSimple  = "simple"
	FormatVerbose = "verbose"
)

// Init installs the default slog logger. output defaults to stderr.
func Init(level slog.Level, output *os.File, format string) *slog.Logger {
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler
	switch format {
	case FormatVerbose:
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{
			Level:     level,
			AddSource: level <= slog.LevelDebug,
		})
	default:
		handler = newSimpleHandler(output, level, isTerminal(output))
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (debug, info, warn, error)", s)
	}
}

// OpenLogFile opens (or creates) a log file for appending, creating parent
// directories as needed.
func OpenLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// simpleHandler renders "LEVEL message key=value ..." lines, one per record.
type simpleHandler struct {
	out     io.Writer
	level   slog.Level
	colored bool
	attrs   []slog.Attr
	groups  []string
}

func newSimpleHandler(out io.Writer, level slog.Level, colored bool) *simpleHandler {
	return &simpleHandler{out: out, level: level, colored: colored}
}

func (h *simpleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *simpleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	label := levelLabel(r.Level)
	if h.colored {
		b.WriteString(levelColor(r.Level))
		b.WriteString(label)
		b.WriteString("\033[0m")
	} else {
		b.WriteString(label)
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)

	prefix := strings.Join(h.groups, ".")
	writeAttr := func(a slog.Attr) bool {
		if a.Key == "" {
			return true
		}
		b.WriteByte(' ')
		if prefix != "" {
			b.WriteString(prefix)
			b.WriteByte('.')
		}
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(a.Value.String())
		return true
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(writeAttr)
	b.WriteByte('\n')

	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *simpleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *simpleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}

func levelLabel(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN "
	case l >= slog.LevelInfo:
		return "INFO "
	default:
		return "DEBUG"
	}
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m" // red
	case l >= slog.LevelWarn:
		return "\033[33m" // yellow
	case l >= slog.LevelInfo:
		return "\033[36m" // cyan
	default:
		return "\033[90m" // gray
	}
}
