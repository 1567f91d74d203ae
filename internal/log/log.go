// Package log is the structured logger used across the server. It wraps
// log/slog with trace correlation, error chain rendering, and a colored
// console mode for local development.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App             string
	Version         string
	Level           slog.Level
	StacktraceLevel slog.Level

	// JSON selects the JSON handler, otherwise logfmt. Ignored when Color is set.
	JSON bool
	// Color renders human readable colored lines (tint), used when NODE_ENV=development.
	Color bool

	IncludeErrorLinks bool
	MaxErrorLinks     int

	// Writer defaults to os.Stdout
	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (valid levels are debug|info|warn|error)", s)
}
