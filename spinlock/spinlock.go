// Package spinlock provides the short-term, non-sleeping mutual
// exclusion primitive both corekit subsystems shard on: one per
// buffer-cache bucket, one per page-allocator freelist, and one as
// each subsystem's global borrow gate.
//
// A real kernel's spinlock busy-waits with interrupts masked; in a
// preemptible user-space runtime that would just burn a core waiting
// for the scheduler to run the holder, so Lock here blocks on a
// sync.Mutex instead. What the borrow path actually needs from a
// spinlock — a non-blocking probe that never sleeps — is provided by
// TryAcquire, backed by sync.Mutex.TryLock rather than a raw field read.
package spinlock

import "sync"

// Lock is a named short-term lock.
type Lock struct {
	name string
	mu   sync.Mutex
}

// New creates a lock with the given name, used only for diagnostics.
func New(name string) *Lock {
	return &Lock{name: name}
}

// Name returns the name given at construction.
func (l *Lock) Name() string { return l.name }

// Acquire blocks until the lock is held by the caller.
func (l *Lock) Acquire() { l.mu.Lock() }

// Release releases the lock. The caller must hold it.
func (l *Lock) Release() { l.mu.Unlock() }

// TryAcquire attempts to acquire the lock without blocking. It reports
// whether the lock was acquired. This is the non-blocking probe the
// buffer cache's borrow path uses to skip a contended peer bucket
// instead of waiting on it.
func (l *Lock) TryAcquire() bool { return l.mu.TryLock() }
