package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// RecentCapacity is how many records RecentLogs can return.
const RecentCapacity = 200

// Logger wraps slog.Logger with redaction and a recent-records buffer.
type Logger struct {
	*slog.Logger
	sanitizer *Sanitizer
	recent    *RecentBuffer
}

// Config configures the logger.
type Config struct {
	Level     string
	Format    string // auto, text, json
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "auto",
		Output: os.Stderr,
	}
}

// New creates a new logger.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}
	sanitizer := NewSanitizer()
	recent := NewRecentBuffer(RecentCapacity)

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(cfg.Output, opts)
	case "text":
		handler = slog.NewTextHandler(cfg.Output, opts)
	default:
		if isTerminal(cfg.Output) {
			handler = NewPrettyHandler(cfg.Output, level)
		} else {
			handler = slog.NewJSONHandler(cfg.Output, opts)
		}
	}

	// Redact before anything is written or buffered.
	handler = NewRecentHandler(handler, recent)
	handler = NewSanitizingHandler(handler, sanitizer)

	return &Logger{
		Logger:    slog.New(handler),
		sanitizer: sanitizer,
		recent:    recent,
	}
}

// NewNop creates a logger that discards output but still buffers records.
func NewNop() *Logger {
	recent := NewRecentBuffer(RecentCapacity)
	sanitizer := NewSanitizer()
	handler := NewSanitizingHandler(NewRecentHandler(slog.NewTextHandler(io.Discard, nil), recent), sanitizer)
	return &Logger{
		Logger:    slog.New(handler),
		sanitizer: sanitizer,
		recent:    recent,
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

func (l *Logger) derive(args ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(args...),
		sanitizer: l.sanitizer,
		recent:    l.recent,
	}
}

// WithRow returns a logger tagged with a sheet row.
func (l *Logger) WithRow(row int) *Logger {
	return l.derive("row", row)
}

// WithSheet returns a logger tagged with a sheet name.
func (l *Logger) WithSheet(sheet string) *Logger {
	return l.derive("sheet", sheet)
}

// WithRecordType returns a logger tagged with a record type.
func (l *Logger) WithRecordType(recordType string) *Logger {
	return l.derive("record_type", recordType)
}

// WithPhase returns a logger tagged with an orchestrator phase.
func (l *Logger) WithPhase(phase string) *Logger {
	return l.derive("phase", phase)
}

// With returns a logger with custom fields.
func (l *Logger) With(args ...any) *Logger {
	return l.derive(args...)
}

// Recent returns up to n of the most recent records, oldest first.
func (l *Logger) Recent(n int) []Entry {
	return l.recent.Last(n)
}

// Forward sends every record at or above min to fn, after redaction.
func (l *Logger) Forward(min slog.Level, fn func(Entry)) {
	l.recent.SetSink(func(e Entry) {
		if parseLevel(strings.ToLower(e.Level)) >= min {
			fn(e)
		}
	})
}

// Sanitize sanitizes a string using the logger's sanitizer.
func (l *Logger) Sanitize(input string) string {
	return l.sanitizer.Sanitize(input)
}
