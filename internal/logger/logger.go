// Package logger builds the process-wide slog logger.
package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ekisa-team/melotts/internal/env"
	"github.com/ekisa-team/melotts/internal/xfs"
)

type options struct {
	level     slog.Level
	logToFile bool
	logFile   string
	stderr    io.Writer
}

// Option configures the logger.
type Option func(*options)

// WithLevel sets the minimum level logged.
func WithLevel(level slog.Level) Option {
	return func(o *options) { o.level = level }
}

// WithLogToFile enables the rotated file sink.
func WithLogToFile(enabled bool) Option {
	return func(o *options) { o.logToFile = enabled }
}

// WithLogFile sets the path of the rotated log file.
func WithLogFile(path string) Option {
	return func(o *options) { o.logFile = path }
}

// WithWriter replaces stderr as the console sink.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.stderr = w }
}

// New creates a logger for the given environment. Development logs are colored
// via tint, production logs are JSON. File logs are always JSON.
func New(environment env.Environment, opts ...Option) *slog.Logger {
	o := &options{
		level:   slog.LevelInfo,
		logFile: filepath.Join("logs", "melotts.log"),
		stderr:  os.Stderr,
	}
	for _, opt := range opts {
		opt(o)
	}

	var console slog.Handler
	if environment.IsProduction() {
		console = slog.NewJSONHandler(o.stderr, &slog.HandlerOptions{Level: o.level})
	} else {
		console = tint.NewHandler(o.stderr, &tint.Options{
			Level:      o.level,
			TimeFormat: time.Kitchen,
		})
	}

	if !o.logToFile {
		return slog.New(console)
	}

	file := &lumberjack.Logger{
		Filename:   xfs.ExpandTilde(o.logFile),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	return slog.New(fanout{
		console,
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: o.level}),
	})
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanout forwards records to every handler that accepts them.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
