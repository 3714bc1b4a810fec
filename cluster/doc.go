// Package cluster elects a single leader among granter processes that share
// a lock backend.
//
// The leader holds a renewable lease named [DefaultLeaderLock] through
// [lock.Locker]. It is the only process that fires cron entries, so the
// scheduled fan-out runs once per tick across the cluster. Leadership is
// renewed every TTL/2; when a renewal fails the process steps down and the
// lease lapses for another process to take.
//
// Leadership changes are reported through the ext.LeadershipChanged hook.
package cluster
