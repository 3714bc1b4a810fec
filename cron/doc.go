// Package cron fires recurring jobs on the cluster leader.
//
// Entries are registered in code at startup (see engine.RegisterCron) and
// kept in memory. Every process computes the same schedule, but only the
// process whose [Leader] reports leadership enqueues on a tick, so a
// schedule fires once across the cluster.
//
// Schedules use robfig/cron syntax: standard 5-field expressions such as
// "0 3 * * *" and descriptors such as "@daily" or "@every 30m".
//
// The badge service registers the fan-out job on a schedule so every
// enabled badge is recomputed periodically even when nothing triggers it.
package cron
