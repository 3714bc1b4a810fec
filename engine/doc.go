// Package engine wires the granter subsystems together: the extension
// registry, job registry, middleware chain, worker pool, distributed
// mutex, debouncer, leader elector and cron scheduler. It provides the
// Register, Enqueue and CancelScheduled operations the badge service
// drives.
//
// The package exists to break the import cycle: the root granter package
// defines Entity and Clock (imported by job, lock and the rest) and so
// cannot import those packages back. engine sits above every subsystem
// package and below the application layer.
package engine
