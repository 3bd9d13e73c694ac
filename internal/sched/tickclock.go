// internal/sched/tickclock.go

package sched

import (
	"sync/atomic"
	"time"
)

// TickClock is a restartable periodic timer that counts delivered ticks.
// Ticks missed while the receiver is busy or the clock is stopped are
// dropped, never queued.
type TickClock struct {
	ticker   *time.Ticker
	interval time.Duration
	running  bool
	count    atomic.Int64
}

// NewTickClock creates a stopped clock.
func NewTickClock() *TickClock {
	return &TickClock{}
}

// Start (re)starts the clock; the first tick arrives one interval from now.
func (c *TickClock) Start(interval time.Duration) {
	c.interval = interval
	if c.ticker == nil {
		c.ticker = time.NewTicker(interval)
	} else {
		c.ticker.Reset(interval)
	}
	c.drain()
	c.running = true
}

// Reset changes the period. A stopped clock stays stopped and picks the new
// period up on the next Start.
func (c *TickClock) Reset(interval time.Duration) {
	c.interval = interval
	if c.running {
		c.ticker.Reset(interval)
	}
}

// Stop halts the clock and discards any pending tick.
func (c *TickClock) Stop() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	c.drain()
	c.running = false
}

// C returns the tick channel, or nil while stopped so a select never fires.
func (c *TickClock) C() <-chan time.Time {
	if !c.running {
		return nil
	}
	return c.ticker.C
}

// Interval returns the configured period.
func (c *TickClock) Interval() time.Duration { return c.interval }

// Count returns the number of ticks observed so far.
func (c *TickClock) Count() int64 {
	return c.count.Load()
}

func (c *TickClock) observe() {
	c.count.Add(1)
}

func (c *TickClock) drain() {
	select {
	case <-c.ticker.C:
	default:
	}
}
