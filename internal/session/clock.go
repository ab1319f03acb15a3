// Package session runs a proctored exam session: it wires the monitors to
// the shared event store, counts the session down, and finalizes exactly
// once, delivering the frozen evidence to the submission collaborator.
package session

import (
	"context"
	"sync"
	"time"
)

// Clock is the one-second session countdown. At zero it invokes the expiry
// callback once; every later tick is absorbed by the caller's idempotent
// finalize path.
type Clock struct {
	interval time.Duration
	onExpire func()

	mu        sync.Mutex
	remaining time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClock creates a countdown clock for the given session duration.
func NewClock(duration time.Duration, onExpire func()) *Clock {
	return &Clock{
		interval:  time.Second,
		onExpire:  onExpire,
		remaining: duration,
	}
}

// Start begins the countdown.
func (c *Clock) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop halts the countdown and waits for the loop to exit. Safe to call
// twice and safe to call on a clock that was never started.
func (c *Clock) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Remaining returns the time left on the countdown.
func (c *Clock) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Clock) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.remaining -= c.interval
			if c.remaining < 0 {
				c.remaining = 0
			}
			expired := c.remaining == 0
			c.mu.Unlock()

			if expired {
				if c.onExpire != nil {
					c.onExpire()
				}
				return
			}
		}
	}
}

// SetInterval overrides the tick interval, for tests.
func (c *Clock) SetInterval(d time.Duration) {
	c.interval = d
}
