// Package telemetry provides structured logging and Prometheus metrics for
// deployment runs.
package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Log output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatTint = "tint"
)

// NewLogger creates a structured logger writing to w. Format selects the
// handler: json for machine consumption, text for plain terminals, tint for
// colorized interactive use.
func NewLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("could not parse log level: %w", err)
	}
	if w == nil {
		w = os.Stderr
	}

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	case FormatText:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	case FormatTint:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.Kitchen,
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return slog.New(handler), nil
}

// RunLogger returns a logger with run-scoped fields attached.
func RunLogger(logger *slog.Logger, target, runID string) *slog.Logger {
	return logger.With(
		slog.String("target", target),
		slog.String("run_id", runID),
	)
}
