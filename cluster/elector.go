package cluster

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/granter/id"
	"github.com/xraph/granter/lock"
)

// DefaultLeaderLock is the lease name contended for leadership.
const DefaultLeaderLock = "granter:leader"

// Emitter is told when this process gains or loses leadership.
// ext.Registry satisfies it.
type Emitter interface {
	EmitLeadershipChanged(ctx context.Context, leader bool)
}

// ElectorOption configures an Elector.
type ElectorOption func(*Elector)

// WithLeaderTTL sets the leader lease TTL. Renewal runs every TTL/2.
func WithLeaderTTL(d time.Duration) ElectorOption {
	return func(e *Elector) { e.ttl = d }
}

// WithLockName overrides the leader lease name.
func WithLockName(name string) ElectorOption {
	return func(e *Elector) { e.name = name }
}

// WithEmitter sets the leadership change emitter.
func WithEmitter(em Emitter) ElectorOption {
	return func(e *Elector) { e.emitter = em }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ElectorOption {
	return func(e *Elector) { e.logger = l }
}

// Elector campaigns for the leader lease on behalf of one worker.
type Elector struct {
	locker  lock.Locker
	owner   string
	name    string
	ttl     time.Duration
	emitter Emitter
	logger  *slog.Logger

	leader atomic.Bool

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewElector creates an Elector that campaigns as workerID.
func NewElector(locker lock.Locker, workerID id.WorkerID, opts ...ElectorOption) *Elector {
	e := &Elector{
		locker: locker,
		owner:  workerID.String(),
		name:   DefaultLeaderLock,
		ttl:    15 * time.Second,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsLeader reports whether this process currently holds the lease.
func (e *Elector) IsLeader() bool { return e.leader.Load() }

// Campaign makes one attempt to acquire or renew the lease and returns
// whether this process is leader afterwards.
func (e *Elector) Campaign(ctx context.Context) bool {
	ok, err := e.locker.AcquireLock(ctx, e.name, e.owner, e.ttl)
	if err != nil {
		e.logger.Warn("leadership campaign error",
			slog.String("lock", e.name),
			slog.String("error", err.Error()),
		)
		ok = false
	}
	e.setLeader(ctx, ok)
	return ok
}

func (e *Elector) setLeader(ctx context.Context, leader bool) {
	if e.leader.Swap(leader) == leader {
		return
	}
	if leader {
		e.logger.Info("acquired leadership", slog.String("owner", e.owner))
	} else {
		e.logger.Warn("lost leadership", slog.String("owner", e.owner))
	}
	if e.emitter != nil {
		e.emitter.EmitLeadershipChanged(ctx, leader)
	}
}

// Start campaigns once and then keeps renewing in the background.
func (e *Elector) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	e.running = true
	e.stopCh = make(chan struct{})

	ctx = context.WithoutCancel(ctx)
	e.Campaign(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.Campaign(ctx)
			}
		}
	}()
	return nil
}

// Stop ends the campaign and gives up the lease if held.
func (e *Elector) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()

	if !e.leader.Load() {
		return nil
	}
	err := e.locker.ReleaseLock(context.WithoutCancel(ctx), e.name, e.owner)
	e.setLeader(ctx, false)
	return err
}
