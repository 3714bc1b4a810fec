package badge

import (
	"context"
	"log/slog"
)

// Reporter receives errors that are handled locally and would otherwise
// be invisible to operators.
type Reporter interface {
	Report(ctx context.Context, err error, fields map[string]any)
}

// LogReporter writes reported errors to a slog.Logger at error level.
type LogReporter struct {
	Logger *slog.Logger
}

// Report logs err with fields as attributes.
func (r LogReporter) Report(ctx context.Context, err error, fields map[string]any) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]slog.Attr, 0, len(fields)+1)
	attrs = append(attrs, slog.String("error", err.Error()))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	logger.LogAttrs(ctx, slog.LevelError, "badge error reported", attrs...)
}
