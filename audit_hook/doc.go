// Package audithook is a granter extension that turns lifecycle events
// into audit records.
//
// Every job hook, each sweep reschedule and cancellation, cron firings and
// leadership changes produce an [AuditEvent] passed to a [Recorder].
// Severity is info for normal operation, warning for retries and
// cancellations, and critical for terminal failures.
//
// # Usage
//
//	eng, err := engine.Build(r,
//	    engine.WithExtension(audithook.New(audithook.LogRecorder{Logger: logger})),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobDLQ,
//	        audithook.ActionJobsCancelled,
//	    ),
//	)
package audithook
