// Package redis implements the job queue, dead letter queue and lock
// leases on Redis. Jobs are Hashes, each queue is a Sorted Set scored by
// RunAt, and pending scheduled jobs are indexed per job name so they can
// be withdrawn in one step.
//
// Claiming, cancelling and lease handling run as Lua scripts, so each is
// atomic with respect to every other client of the same Redis.
//
// Badge data is not kept in Redis; pair this store with a badge.Source
// such as the postgres store.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
