package logging

import (
	"fmt"
	"io"
	"log/slog"
)

// New builds a Logger for the given format: "json" and "text" use slog,
// "zap" and "zap-dev" use zap.
func New(format string, w io.Writer) (Logger, error) {
	switch format {
	case "", "json":
		return NewSlogLogger(slog.New(slog.NewJSONHandler(w, nil))), nil
	case "text":
		return NewSlogLogger(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))), nil
	case "zap":
		return BuildZap(false, w), nil
	case "zap-dev":
		return BuildZap(true, w), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// Sync flushes l when its backend buffers entries. Loggers without buffering
// return nil.
func Sync(l Logger) error {
	if s, ok := l.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}
