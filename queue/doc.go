// Package queue limits how fast and how many jobs of each queue start.
//
// Badge backfills run on the "low" queue and can hammer the database when
// a fan-out enqueues hundreds of them at once, so deployments usually cap
// it:
//
//	engine.Build(r, engine.WithQueueConfig(
//	    queue.Config{Name: "low", MaxConcurrency: 2, RateLimit: 1, RateBurst: 2},
//	))
//
// [Manager] applies a token bucket (golang.org/x/time/rate) and an active
// count per queue. A job refused by the manager goes back to pending and is
// retried after the poll interval.
package queue
