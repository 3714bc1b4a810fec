// Package granter provides a durable, debounced badge-granting pipeline
// built on a persistent delayed-job queue and a cross-process mutex.
//
// A fan-out job enqueues one recompute unit per enabled badge. Every unit,
// however it ends, reschedules a single consistency sweep a fixed quiet
// delay into the future while holding a named lock, so the sweep runs once
// after the last unit of a campaign finishes.
//
// # Quick Start
//
//	r, err := granter.New(
//	    granter.WithStore(pgStore),
//	    granter.WithConcurrency(8),
//	    granter.WithQueues([]string{"default", "low"}),
//	)
//	eng, err := engine.Build(r)
//	svc := badge.NewService(pgStore, pgStore, eng, eng.Debouncer())
//	badge.Register(eng, svc)
//	eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (job, dlq, lock) defines its own store interface and a
// single backend (memory, redis, postgres) implements all of them. Badge
// data comes from a badge.Source, which Redis deployments take from
// Postgres. The
// generic trailing debounce lives in package debounce; package badge binds
// it to the sweep job.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package granter
