// Package debounce implements a trailing debounce over a durable job queue.
//
// Each call to [Debouncer.Debounce] takes a named lock, cancels every
// pending scheduled job of one kind and schedules a fresh one delay from
// now. The job therefore runs once, delay after the last call in a burst,
// even when callers run in different processes. Since state lives in the
// queue and not in a timer, a pending run survives restarts.
//
// A job that is already executing is not pending, so it is left alone and
// a new run is scheduled behind it.
package debounce
