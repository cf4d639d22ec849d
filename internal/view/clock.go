package view

import "time"

// Clock delivers animation frames to a view.
type Clock interface {
	Frames() <-chan time.Time
	Stop()
}

// TickerClock produces frames at a fixed interval.
type TickerClock struct {
	ticker *time.Ticker
}

// NewTickerClock creates a clock ticking every interval.
func NewTickerClock(interval time.Duration) *TickerClock {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &TickerClock{ticker: time.NewTicker(interval)}
}

// Frames implements Clock.
func (c *TickerClock) Frames() <-chan time.Time { return c.ticker.C }

// Stop implements Clock.
func (c *TickerClock) Stop() { c.ticker.Stop() }

// ManualClock produces a frame each time Tick is called.
type ManualClock struct {
	ch chan time.Time
}

// NewManualClock creates a clock driven by Tick.
func NewManualClock() *ManualClock {
	return &ManualClock{ch: make(chan time.Time)}
}

// Tick delivers one frame and blocks until the view has taken it.
func (c *ManualClock) Tick() { c.ch <- time.Now() }

// Frames implements Clock.
func (c *ManualClock) Frames() <-chan time.Time { return c.ch }

// Stop implements Clock.
func (c *ManualClock) Stop() {}
