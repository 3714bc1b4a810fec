// Package job defines the job entity, its state machine, typed
// definitions, the handler registry and the store interface.
//
// A [Job] progresses through:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → failed (→ dlq)
//	pending → cancelled            (scheduled jobs only)
//
// A job enqueued with a delay or an explicit RunAt is marked Scheduled.
// Only scheduled jobs that are still pending can be cancelled by name;
// this is what lets a caller keep at most one deferred job of a kind
// outstanding (see package debounce).
//
//	var GrantBadge = job.NewDefinition("grant-badge",
//	    func(ctx context.Context, args GrantBadgeArgs) error {
//	        return svc.Grant(ctx, args.BadgeID)
//	    },
//	    job.WithQueue("low"),
//	)
package job
