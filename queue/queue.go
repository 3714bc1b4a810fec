package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines per-queue rate limiting and concurrency.
type Config struct {
	// Name is the queue identifier (matches job.Job.Queue).
	Name string

	// MaxConcurrency caps how many jobs from this queue run at once in the
	// local pool. Zero means only the pool-wide limit applies.
	MaxConcurrency int

	// RateLimit is the sustained number of jobs per second that may start.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst. It defaults to 1 when RateLimit
	// is set.
	RateBurst int
}

type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager gates job starts per queue. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager creates a Manager. Queues not listed have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{queues: make(map[string]*queueState, len(configs))}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

// Permit is one admitted start on a queue. End it with Release once the
// job has run, or Cancel when no job was started under it.
type Permit struct {
	m     *Manager
	queue string
	rsv   *rate.Reservation
	once  sync.Once
}

// Queue returns the queue the permit was issued for.
func (p *Permit) Queue() string { return p.queue }

// Release frees the concurrency slot. The rate token stays spent.
func (p *Permit) Release() {
	p.once.Do(func() { p.m.Release(p.queue) })
}

// Cancel frees the concurrency slot and hands the rate token back.
func (p *Permit) Cancel() {
	p.once.Do(func() {
		if p.rsv != nil {
			p.rsv.Cancel()
		}
		p.m.Release(p.queue)
	})
}

// Reserve admits one start on queue, or reports false when the queue is at
// its concurrency cap or out of rate tokens. Concurrency is checked before
// the rate limiter so a refused start does not spend a token.
func (m *Manager) Reserve(queue string) (*Permit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &Permit{m: m, queue: queue}
	qs := m.queues[queue]
	if qs == nil {
		return p, true
	}
	if qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return nil, false
	}
	if qs.limiter != nil {
		now := time.Now()
		rsv := qs.limiter.ReserveN(now, 1)
		if !rsv.OK() || rsv.DelayFrom(now) > 0 {
			rsv.CancelAt(now)
			return nil, false
		}
		p.rsv = rsv
	}
	qs.active++
	return p, true
}

// Acquire reports whether a job from queue may start now and, if so,
// counts it as active. The caller must Release after the job finishes.
func (m *Manager) Acquire(queue string) bool {
	_, ok := m.Reserve(queue)
	return ok
}

// Release marks one job from queue as finished.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// SetQueueConfig replaces or adds a queue configuration, keeping the
// current active count.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := newQueueState(cfg)
	if existing := m.queues[cfg.Name]; existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// ActiveCount returns the number of active jobs for queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
