package sched

import (
	"context"
	"sync"
	"time"
)

// opLock is the mutual-exclusion token. At most one operation holds it at
// any instant; the worker only dequeues while it is free.
//
// The lock records its holder and acquisition time so a holder that has
// exceeded the recovery window can be force-released. Force-release cancels
// the holder's context; a cooperating executor stops promptly, a
// non-cooperating one keeps running but can no longer block the queue.
type opLock struct {
	mu         sync.Mutex
	held       bool
	holderID   string
	holderType string
	acquiredAt time.Time
	cancel     context.CancelCauseFunc
}

// acquire marks the lock held by the given operation.
// Caller must ensure the lock is free; the worker's loop guarantees this.
func (l *opLock) acquire(id, opType string, at time.Time, cancel context.CancelCauseFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.held = true
	l.holderID = id
	l.holderType = opType
	l.acquiredAt = at
	l.cancel = cancel
}

// releaseIf clears the lock if id is still the holder. Returns false when
// the lock was already force-released (and possibly re-acquired) while the
// operation ran.
func (l *opLock) releaseIf(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held || l.holderID != id {
		return false
	}
	l.clearLocked(nil)
	return true
}

// clearIfStale force-releases the lock when it has been held past timeout.
// Returns the evicted holder for logging.
func (l *opLock) clearIfStale(now time.Time, timeout time.Duration) (holderID, holderType string, heldFor time.Duration, cleared bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return "", "", 0, false
	}
	heldFor = now.Sub(l.acquiredAt)
	if heldFor <= timeout {
		return "", "", 0, false
	}

	holderID, holderType = l.holderID, l.holderType
	l.clearLocked(newLockTimeoutError(holderID, holderType))
	return holderID, holderType, heldFor, true
}

// forceRelease unconditionally clears the lock (CancelAll path).
// Returns the evicted holder, if any.
func (l *opLock) forceRelease(cause error) (holderID string, released bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return "", false
	}
	holderID = l.holderID
	l.clearLocked(cause)
	return holderID, true
}

// clearLocked resets holder state and cancels the holder's context.
// Caller must hold l.mu.
func (l *opLock) clearLocked(cause error) {
	if l.cancel != nil {
		l.cancel(cause)
	}
	l.held = false
	l.holderID = ""
	l.holderType = ""
	l.acquiredAt = time.Time{}
	l.cancel = nil
}

// isHeld reports whether the lock is currently held.
func (l *opLock) isHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// status snapshots the lock for diagnostics.
func (l *opLock) status(now time.Time) LockStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return LockStatus{}
	}
	return LockStatus{
		IsLocked:   true,
		HolderID:   l.holderID,
		HolderType: l.holderType,
		AcquiredAt: l.acquiredAt,
		HeldFor:    now.Sub(l.acquiredAt),
	}
}
