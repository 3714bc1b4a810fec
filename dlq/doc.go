// Package dlq is the dead letter queue for jobs that exhausted their retry
// budget.
//
// The worker executor calls [Service.Push] on terminal failure. The
// original payload, error and retry counts are kept so an operator can
// inspect the entry and [Service.Replay] it once the cause is fixed. In
// this system the usual occupant is a consistency sweep that failed
// against an unavailable database.
package dlq
