package timectrl

import (
	"fmt"
	"sync"
	"time"
)

// SimClock is an interface for reading simulation time. Components depend on
// it rather than a concrete clock so tests can drive time directly.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Clock is a manually advanced simulation clock. Simulated time only moves
// when the event loop sets it; it never tracks wall-clock time.
type Clock struct {
	mu        sync.RWMutex
	start     time.Time
	now       time.Time
	listeners []func(time.Time)
}

// NewClock constructs a clock positioned at start.
func NewClock(start time.Time) *Clock {
	return &Clock{start: start, now: start}
}

// Now returns the current simulation time. Implements SimClock.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Start returns the instant the clock was created at.
func (c *Clock) Start() time.Time {
	return c.start
}

// Elapsed returns the simulated time since Start.
func (c *Clock) Elapsed() time.Duration {
	return c.Now().Sub(c.start)
}

// SetTime moves the clock to t and notifies listeners. Time is monotonic:
// moving backwards is an error and leaves the clock untouched.
func (c *Clock) SetTime(t time.Time) error {
	c.mu.Lock()
	if t.Before(c.now) {
		now := c.now
		c.mu.Unlock()
		return fmt.Errorf("timectrl: cannot move clock backwards from %s to %s",
			now.Format(time.RFC3339Nano), t.Format(time.RFC3339Nano))
	}
	changed := !t.Equal(c.now)
	c.now = t
	listeners := append([]func(time.Time){}, c.listeners...)
	c.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(t)
		}
	}
	return nil
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("timectrl: negative advance %s", d)
	}
	return c.SetTime(c.Now().Add(d))
}

// AddListener registers a callback invoked whenever simulation time moves.
func (c *Clock) AddListener(fn func(time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}
