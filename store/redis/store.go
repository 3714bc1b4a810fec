package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/granter"
	"github.com/xraph/granter/dlq"
	"github.com/xraph/granter/job"
	"github.com/xraph/granter/lock"
)

// Compile-time interface checks.
var (
	_ job.Store   = (*Store)(nil)
	_ dlq.Store   = (*Store)(nil)
	_ lock.Locker = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the time source used for RunAt comparisons and
// timestamps.
func WithClock(c granter.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithKeyPrefix namespaces every key. The default is "granter:".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keys = keyspace(prefix) }
}

// Store implements the job, DLQ and lock contracts backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
	clock  granter.Clock
	keys   keyspace
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
		clock:  granter.SystemClock{},
		keys:   defaultPrefix,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
