package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/granter/job"
)

// Logging logs job start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []any{
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
		}
		if j.RetryCount > 0 {
			attrs = append(attrs, slog.Int("attempt", j.RetryCount+1))
		}
		logger.InfoContext(ctx, "job started", attrs...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			logger.ErrorContext(ctx, "job failed", append(attrs, slog.String("error", err.Error()))...)
			return err
		}
		logger.InfoContext(ctx, "job completed", attrs...)
		return nil
	}
}
