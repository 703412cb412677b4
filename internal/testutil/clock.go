// Package testutil provides deterministic collaborators for tests:
// a manually advanced clock and predictable id generators. Production
// code never imports this package.
package testutil

import (
	"sync"
	"time"
)

// ManualClock is a thread-safe time source that only moves when told to.
//
// Scheduler and transaction components accept a now func option; handing
// them clock.Now makes timestamps, durations, and stale-lock math exact
// instead of sleep-dependent.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock pinned to start.
//
// Tests typically pin to a round UTC instant so golden output stays stable:
//
//	clock := testutil.NewManualClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current instant without advancing it.
//
// Thread-safe: uses mutex to protect the instant.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new instant.
//
// Negative d is allowed but almost always a test bug; the clock does not
// guard against it.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set pins the clock to t.
//
// Used for test reuse, the same way a sequence clock would be reset.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
