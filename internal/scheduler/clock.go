package scheduler

import (
	"context"
	"time"
)

// FrameFunc advances the game by realtics tics.
type FrameFunc func(realtics int)

// Clock turns wall time into whole tics at a fixed rate.
type Clock struct {
	rate  int
	start time.Time
	last  int64
	frame FrameFunc
}

// NewClock creates a clock of rate tics per second, starting at start.
func NewClock(rate int, start time.Time, frame FrameFunc) *Clock {
	return &Clock{rate: rate, start: start, frame: frame}
}

// Step returns how many tics elapsed since the previous call.
func (c *Clock) Step(now time.Time) int {
	tic := int64(now.Sub(c.start)) * int64(c.rate) / int64(time.Second)
	n := tic - c.last
	if n < 0 {
		return 0
	}
	c.last = tic
	return int(n)
}

// Run calls frame once per elapsed tic batch until ctx ends. A frame
// that overruns is caught up on the next wakeup with a larger realtics.
func (c *Clock) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(c.rate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := c.Step(now); n > 0 {
				c.frame(n)
			}
		}
	}
}
