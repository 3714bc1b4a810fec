// Package lock provides a named, cross-process mutual exclusion primitive
// built on leases.
//
// A [Locker] is the storage side: it grants a lease on a name to one owner
// for a bounded TTL. The memory, redis and postgres stores all implement
// it. A [Mutex] is the caller side: [Mutex.Synchronize] blocks until the
// lease is granted, runs a critical section and always releases.
//
// Leases expire on their own, so a process that dies while holding one
// blocks other contenders for at most the TTL. Critical sections must be
// short relative to the TTL; the mutex does not renew leases.
package lock
