// Package logging is the gateway's zerolog setup: one root logger built from
// config, children tagged per subsystem and account, and a request-scoped
// logger carried in context.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

type Logger struct {
	zl zerolog.Logger
}

// New creates a root logger writing to w at the given level. A nil w writes
// the console format to stderr.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = console(os.Stderr)
	}
	zl := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Options selects level, console style and an optional JSON log file.
type Options struct {
	Level string
	Style string // "pretty" or "json"
	File  string
}

// Open builds the root logger for a run. The closer is never nil.
func Open(opts Options) (*Logger, func() error, error) {
	var out io.Writer = os.Stderr
	if opts.Style != "json" {
		out = console(os.Stderr)
	}
	noop := func() error { return nil }
	if opts.File == "" {
		return New(out, opts.Level), noop, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
		return nil, noop, err
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, noop, err
	}
	return New(zerolog.MultiLevelWriter(out, f), opts.Level), f.Close, nil
}

func console(f *os.File) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        f,
		TimeFormat: time.RFC3339,
		NoColor:    !isatty.IsTerminal(f.Fd()),
	}
}

// Sub tags a child with the subsystem name.
func (l *Logger) Sub(subsystem string) *Logger {
	return l.With("subsystem", subsystem)
}

func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l *Logger) Trace() *zerolog.Event { return l.zl.Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

type ctxKey struct{}

// WithContext stores l in ctx for FromContext.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by WithContext, or fallback.
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return fallback
}

// parseLevel accepts zerolog's level names in any case plus "silent".
// Unknown or empty names mean info.
func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "silent" || s == "off" {
		return zerolog.Disabled
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
