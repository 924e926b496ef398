package util

import (
	"sync"
	"time"
)

// Clock supplies block time. The ledger reads it once per transaction; the
// pool (rate accrual) and the settlement engine (order validity windows) see
// that reading through state.Tx.Now.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// ManualClock only moves when told to. Tests use it to accrue interest
// between an order being signed and being settled.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock { return &ManualClock{now: start} }

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// SteppingClock moves forward by Step every time it is read.
type SteppingClock struct {
	*ManualClock
	Step time.Duration
}

func (c SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.Step)
	return now
}
