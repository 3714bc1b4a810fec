// Package observability records system-wide lifecycle metrics through
// OpenTelemetry. MetricsExtension implements the ext hooks and counts
// enqueues, completions, failures, retries, DLQ entries, cancellations,
// debounce reschedules, cron fires and leadership changes.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
