// Package middleware wraps job execution.
//
// [Chain] composes middleware right-to-left, so the first entry is the
// outermost wrapper. The engine installs, in order: [Recover], [Tracing],
// [Metrics], [Logging] and [Timeout], followed by any middleware passed to
// engine.WithMiddleware.
//
//	func Audit(log *slog.Logger) middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        err := next(ctx)
//	        log.Info("audit", "job", j.Name, "ok", err == nil)
//	        return err
//	    }
//	}
package middleware
