// Package badge runs badge granting as background jobs.
//
// A fan-out job (grant-all-badges) enqueues one recompute unit
// (grant-badge) per enabled badge. Each unit backfills its badge's grants
// and then reschedules the consistency sweep (ensure-badge-consistency)
// through a [debounce.Debouncer], so the sweep runs once, five minutes
// after the last unit finished.
//
// Backfill errors are reported and swallowed inside a unit so a single
// broken badge never stops the sweep from being rescheduled. Sweep errors
// go through the queue's retry policy and end in the DLQ.
//
//	svc := badge.NewService(store, store, eng, eng.Debouncer())
//	badge.Register(eng, svc)
package badge
