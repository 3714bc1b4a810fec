package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/granter/store"
	"github.com/xraph/granter/store/memory"
	"github.com/xraph/granter/store/postgres"
	"github.com/xraph/granter/store/redis"
)

// backend is the job store plus the badge store it runs against. For
// memory and postgres both are the same value. The runner closes jobs;
// release closes whatever else was opened.
type backend struct {
	jobs    store.Store
	badges  store.BadgeStore
	release func() error
}

func (b *backend) Close() error {
	if b.release == nil {
		return nil
	}
	return b.release()
}

func openBackend(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (*backend, error) {
	switch cfg.Backend {
	case backendMemory:
		s := memory.New()
		return &backend{jobs: s, badges: s}, nil

	case backendPostgres:
		ps, err := postgres.New(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &backend{jobs: ps, badges: ps}, nil

	case backendRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		ps, err := postgres.New(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		// Badge tables still need their migrations.
		if err := ps.Migrate(ctx); err != nil {
			_ = ps.Close()
			_ = client.Close()
			return nil, err
		}
		rs := redis.New(client, redis.WithLogger(logger))
		return &backend{
			jobs:   rs,
			badges: ps,
			release: func() error {
				_ = ps.Close()
				return client.Close()
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
