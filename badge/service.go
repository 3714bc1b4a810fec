package badge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/granter"
	"github.com/xraph/granter/debounce"
	"github.com/xraph/granter/job"
)

const meterName = "github.com/xraph/granter/badge"

// codeDesc is attached to reported backfill failures.
const codeDesc = "Exception granting badges"

// Queue is the part of the job engine the service enqueues through.
type Queue interface {
	EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error)
	CancelScheduled(ctx context.Context, name string) (int64, error)
}

// Coordinator reschedules a debounced job.
type Coordinator interface {
	Debounce(ctx context.Context, key debounce.Key, payload []byte, delay time.Duration, opts ...job.Option) error
}

// Service fans out badge recomputes and keeps exactly one consistency
// sweep trailing the most recent one.
type Service struct {
	cfg         Config
	source      Source
	reconciler  Reconciler
	queue       Queue
	coordinator Coordinator
	flag        FeatureFlag
	reporter    Reporter
	logger      *slog.Logger
	meter       metric.Meter

	recomputes    metric.Int64Counter
	fanOutUnits   metric.Int64Counter
	sweeps        metric.Int64Counter
	sweepDuration metric.Float64Histogram
}

// Option configures a Service.
type Option func(*Service)

// WithConfig replaces the service configuration.
func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithFeatureFlag sets the global enable switch. The default is on.
func WithFeatureFlag(f FeatureFlag) Option {
	return func(s *Service) { s.flag = f }
}

// WithReporter sets the error sink. The default logs through slog.
func WithReporter(r Reporter) Option {
	return func(s *Service) { s.reporter = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMeterProvider records service metrics on mp instead of the global
// provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter(meterName) }
}

// NewService creates a badge Service.
func NewService(source Source, reconciler Reconciler, queue Queue, coordinator Coordinator, opts ...Option) *Service {
	s := &Service{
		cfg:         DefaultConfig(),
		source:      source,
		reconciler:  reconciler,
		queue:       queue,
		coordinator: coordinator,
		flag:        StaticFlag(true),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reporter == nil {
		s.reporter = LogReporter{Logger: s.logger}
	}
	if s.meter == nil {
		s.meter = otel.Meter(meterName)
	}

	// Instrument errors fall back to noop instruments.
	s.recomputes, _ = s.meter.Int64Counter("granter.badge.recomputes",
		metric.WithDescription("Badge recompute units by outcome"),
		metric.WithUnit("{unit}"),
	)
	s.fanOutUnits, _ = s.meter.Int64Counter("granter.badge.fanout.units",
		metric.WithDescription("Recompute units enqueued by fan-out"),
		metric.WithUnit("{unit}"),
	)
	s.sweeps, _ = s.meter.Int64Counter("granter.badge.sweeps",
		metric.WithDescription("Consistency sweeps by status"),
		metric.WithUnit("{sweep}"),
	)
	s.sweepDuration, _ = s.meter.Float64Histogram("granter.badge.sweep.duration",
		metric.WithDescription("Consistency sweep duration in seconds"),
		metric.WithUnit("s"),
	)
	return s
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

// FanOut enqueues one recompute unit per enabled badge, in the order the
// source lists them, and returns how many it enqueued. With badge granting
// disabled it enqueues nothing. An enqueue failure stops the fan-out; the
// units already enqueued stay.
func (s *Service) FanOut(ctx context.Context) (int, error) {
	if !s.flag.BadgesEnabled(ctx) {
		s.logger.Info("badge fan-out skipped, badges disabled")
		return 0, nil
	}

	badges, err := s.source.EnabledBadges(ctx)
	if err != nil {
		return 0, fmt.Errorf("badge fan-out: list enabled badges: %w", err)
	}

	enqueued := 0
	defer func() {
		s.fanOutUnits.Add(ctx, int64(enqueued))
	}()

	for _, b := range badges {
		if _, err := s.EnqueueUnit(ctx, b.ID); err != nil {
			return enqueued, fmt.Errorf("badge fan-out: %w", err)
		}
		enqueued++
	}

	s.logger.Info("badge fan-out enqueued",
		slog.Int("units", enqueued),
	)
	return enqueued, nil
}

// EnqueueUnit enqueues one recompute unit for badgeID on the badge queue.
func (s *Service) EnqueueUnit(ctx context.Context, badgeID int64) (*job.Job, error) {
	payload, err := json.Marshal(GrantPayload{BadgeID: badgeID})
	if err != nil {
		return nil, fmt.Errorf("marshal badge %d: %w", badgeID, err)
	}
	j, err := s.queue.EnqueueRaw(ctx, s.cfg.GrantJobName, payload, job.WithQueue(s.cfg.Queue))
	if err != nil {
		return nil, fmt.Errorf("enqueue badge %d: %w", badgeID, err)
	}
	return j, nil
}

// Recompute backfills the grants of one badge. It never returns a
// backfill error: that is reported and folded into the Result so the
// caller can still reschedule the sweep.
func (s *Service) Recompute(ctx context.Context, badgeID int64) (res Result) {
	res.BadgeID = badgeID
	defer func() {
		s.recomputes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))
	}()

	if !s.flag.BadgesEnabled(ctx) {
		res.Outcome = OutcomeDisabled
		return res
	}

	b, err := s.source.FindEnabledBadge(ctx, badgeID)
	switch {
	case errors.Is(err, granter.ErrBadgeNotFound):
		res.Outcome = OutcomeMissing
		return res
	case err != nil:
		res.Outcome = OutcomeLookupFailed
		res.Err = fmt.Errorf("find badge %d: %w", badgeID, err)
		return res
	}

	if s.cfg.CancelBeforeBackfill {
		if _, cancelErr := s.queue.CancelScheduled(ctx, s.cfg.SweepJobName); cancelErr != nil {
			s.logger.Warn("cancel pending sweep before backfill",
				slog.Int64("badge_id", badgeID),
				slog.String("error", cancelErr.Error()),
			)
		}
	}

	if err := s.source.BackfillGrants(ctx, b); err != nil {
		s.reporter.Report(ctx, err, map[string]any{
			"badge_id":  b.ID,
			"code_desc": codeDesc,
		})
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	res.Outcome = OutcomeGranted
	return res
}

// ScheduleSweep replaces any pending sweep with one due after the quiet
// delay.
func (s *Service) ScheduleSweep(ctx context.Context) error {
	payload, err := json.Marshal(SweepPayload{})
	if err != nil {
		return err
	}
	key := debounce.Key{Lock: s.cfg.SweepLockName, Job: s.cfg.SweepJobName}
	return s.coordinator.Debounce(ctx, key, payload, s.cfg.QuietDelay,
		job.WithQueue(s.cfg.Queue),
		job.WithMaxRetries(s.cfg.SweepMaxRetries),
	)
}

// Grant runs one recompute unit and then always reschedules the sweep.
// It fails only when the sweep could not be rescheduled or the badge
// could not be loaded.
func (s *Service) Grant(ctx context.Context, badgeID int64) error {
	res := s.Recompute(ctx, badgeID)
	err := s.ScheduleSweep(ctx)
	if err != nil {
		err = fmt.Errorf("reschedule sweep after badge %d: %w", badgeID, err)
	}
	if res.Retry() {
		return errors.Join(res.Err, err)
	}
	return err
}

// Sweep runs one consistency pass. Failures are reported and returned so
// the queue retries the sweep.
func (s *Service) Sweep(ctx context.Context) (Report, error) {
	start := time.Now()
	rep, err := s.reconciler.EnsureConsistency(ctx)
	s.sweepDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		s.sweeps.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		s.reporter.Report(ctx, err, map[string]any{
			"code_desc": "Exception ensuring badge consistency",
		})
		return rep, fmt.Errorf("badge sweep: %w", err)
	}

	s.sweeps.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "ok")))
	s.logger.Info("badge consistency sweep finished",
		slog.Int64("orphans_removed", rep.OrphansRemoved),
		slog.Int64("badges_recounted", rep.BadgesRecounted),
		slog.Int64("users_updated", rep.UsersUpdated),
		slog.Duration("elapsed", time.Since(start)),
	)
	return rep, nil
}
