package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a FixedClock.
var Epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// FixedClock is a manually advanced wall clock for tests.
//
// Pass clock.Now wherever a func() time.Time is accepted; the returned time
// only moves when Advance or Set is called.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock at t, or at Epoch when t is zero.
func NewFixedClock(t time.Time) *FixedClock {
	if t.IsZero() {
		t = Epoch
	}
	return &FixedClock{now: t}
}

// Now returns the current fixed time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
