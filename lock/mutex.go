package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/granter"
	"github.com/xraph/granter/backoff"
	"github.com/xraph/granter/id"
)

const releaseTimeout = 5 * time.Second

// Mutex serializes critical sections by name across goroutines and
// processes sharing the same Locker.
type Mutex struct {
	locker         Locker
	ttl            time.Duration
	acquireTimeout time.Duration
	backoff        backoff.Strategy
	logger         *slog.Logger
	clock          granter.Clock
}

// Option configures a Mutex.
type Option func(*Mutex)

// WithTTL sets the lease TTL.
func WithTTL(d time.Duration) Option {
	return func(m *Mutex) { m.ttl = d }
}

// WithAcquireTimeout bounds how long Acquire waits. Zero waits until the
// context is done.
func WithAcquireTimeout(d time.Duration) Option {
	return func(m *Mutex) { m.acquireTimeout = d }
}

// WithBackoff sets the delay strategy between acquisition attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(m *Mutex) { m.backoff = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mutex) { m.logger = l }
}

// WithClock sets the time source used to stamp lease expiry.
func WithClock(c granter.Clock) Option {
	return func(m *Mutex) { m.clock = c }
}

// NewMutex creates a Mutex over locker. Defaults come from
// granter.DefaultConfig.
func NewMutex(locker Locker, opts ...Option) *Mutex {
	cfg := granter.DefaultConfig()
	m := &Mutex{
		locker:         locker,
		ttl:            cfg.LockTTL,
		acquireTimeout: cfg.LockAcquireTimeout,
		backoff:        backoff.LockStrategy(),
		logger:         slog.Default(),
		clock:          granter.SystemClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire blocks until the lease on name is granted to a fresh owner,
// the acquire timeout passes (granter.ErrLockTimeout) or ctx is done.
func (m *Mutex) Acquire(ctx context.Context, name string) (*Lease, error) {
	owner := id.NewLeaseID().String()

	waitCtx := ctx
	if m.acquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.acquireTimeout)
		defer cancel()
	}

	for attempt := 1; ; attempt++ {
		ok, err := m.locker.AcquireLock(waitCtx, name, owner, m.ttl)
		if err != nil {
			if waitCtx.Err() == nil {
				return nil, fmt.Errorf("lock %q: %w", name, err)
			}
		} else if ok {
			if attempt > 1 {
				m.logger.Debug("lock acquired after contention",
					slog.String("lock", name),
					slog.Int("attempts", attempt),
				)
			}
			return &Lease{Name: name, Owner: owner, ExpiresAt: m.clock.Now().Add(m.ttl)}, nil
		}

		timer := time.NewTimer(m.backoff.Delay(attempt))
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("lock %q after %s: %w", name, m.acquireTimeout, granter.ErrLockTimeout)
		case <-timer.C:
		}
	}
}

// Release drops the lease. It runs on a context detached from ctx's
// cancellation so a cancelled caller still frees the name.
func (m *Mutex) Release(ctx context.Context, lease *Lease) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := m.locker.ReleaseLock(ctx, lease.Name, lease.Owner); err != nil {
		if errors.Is(err, granter.ErrLockNotHeld) {
			m.logger.Warn("lock lease lapsed before release",
				slog.String("lock", lease.Name),
				slog.String("owner", lease.Owner),
			)
		}
		return fmt.Errorf("release lock %q: %w", lease.Name, err)
	}
	return nil
}

// Synchronize runs fn while holding the lease on name. The lease is
// released when fn returns, fails or panics. A release failure is joined
// with fn's error.
func (m *Mutex) Synchronize(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	lease, err := m.Acquire(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := m.Release(ctx, lease); relErr != nil {
			err = errors.Join(err, relErr)
		}
	}()
	return fn(ctx)
}
