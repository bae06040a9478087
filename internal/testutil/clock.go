// Package testutil holds shared helpers for tests.
package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe deterministic clock for tests. Every call to Now
// advances the clock by a fixed step, so ordering-sensitive queries (latest
// selection, event order) behave identically across runs.
type Clock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

// NewClock creates a clock starting just before base. The first call to
// Now returns base, the second base+step, and so on.
func NewClock(base time.Time, step time.Duration) *Clock {
	return &Clock{t: base.Add(-step), step: step}
}

// NewTickingClock creates a clock with a fixed well-known base advancing
// one second per call. Pass its Now method wherever a time source is
// injected.
func NewTickingClock() *Clock {
	return NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), time.Second)
}

// Now advances the clock by one step and returns the new time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

// Current returns the last time handed out without advancing.
func (c *Clock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Reset rewinds the clock so the next Now returns base again.
func (c *Clock) Reset(base time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = base.Add(-c.step)
}
