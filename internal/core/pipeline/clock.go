package pipeline

import (
	"sync"
	"time"
)

// Clock measures the wall time a scheduler invocation spends.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads time.Now.
func SystemClock() Clock { return systemClock{} }

// ManualClock only moves when told to. Tests use it to control the tick
// budget, optionally advancing by a fixed step on every reading.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// SetStep makes every Now call advance the clock by d afterwards.
func (c *ManualClock) SetStep(d time.Duration) {
	c.mu.Lock()
	c.step = d
	c.mu.Unlock()
}
