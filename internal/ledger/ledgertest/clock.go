package ledgertest

import (
	"sync"
	"time"
)

// FakeClock is a deterministic ledger.Clock. Each Now call returns the
// current value and then advances it by Step.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewFakeClock returns a clock starting at start that advances one
// millisecond per reading.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start, Step: time.Millisecond}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now
	c.now = c.now.Add(c.Step)

	return t
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = t
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}
