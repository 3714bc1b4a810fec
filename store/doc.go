// Package store defines the aggregate persistence interfaces.
//
// The job, dlq and lock packages each define their own store contract.
// The composite [Store] composes them so one backend can satisfy the
// engine. [BadgeStore] covers the badge source and the consistency sweep.
//
// # Available Backends
//
//   - store/memory: in-memory store for development and tests; implements both
//   - store/postgres: PostgreSQL via pgx/v5; implements both
//   - store/redis: Redis via go-redis/v9; implements Store only
//
// A Redis deployment pairs the Redis job store with Postgres for badges:
//
//	rs := redis.New(goredis.NewClient(opts))
//	ps, err := postgres.New(ctx, dsn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	r, err := granter.New(granter.WithStore(rs))
//	// ...
//	svc := badge.NewService(ps, ps, eng, eng.Debouncer())
//
// # Migrations
//
// Call Migrate once at startup to create or update the schema:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store
