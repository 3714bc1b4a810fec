package badge

import (
	"context"

	"github.com/xraph/granter/engine"
	"github.com/xraph/granter/job"
)

// Register wires the fan-out, recompute and sweep job kinds into eng.
func Register(eng *engine.Engine, svc *Service) {
	cfg := svc.Config()

	engine.Register(eng, job.NewDefinition(cfg.GrantAllJobName,
		func(ctx context.Context, _ GrantAllPayload) error {
			_, err := svc.FanOut(ctx)
			return err
		},
		job.WithQueue(cfg.Queue),
	))

	engine.Register(eng, job.NewDefinition(cfg.GrantJobName,
		func(ctx context.Context, p GrantPayload) error {
			return svc.Grant(ctx, p.BadgeID)
		},
		job.WithQueue(cfg.Queue),
	))

	engine.Register(eng, job.NewDefinition(cfg.SweepJobName,
		func(ctx context.Context, _ SweepPayload) error {
			_, err := svc.Sweep(ctx)
			return err
		},
		job.WithQueue(cfg.Queue),
		job.WithMaxRetries(cfg.SweepMaxRetries),
	))
}
