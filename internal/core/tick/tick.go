// Package tick defines the simulation heartbeat shared by the world
// manager, layer actors and entity actors.
package tick

import (
	"sync/atomic"
	"time"
)

// Tick is one discrete simulation step. Numbers start at 1 and are
// monotonic per source; Source names the clock that emitted the tick,
// e.g. "world_manager" or "layer:plants:verdant_hollow".
type Tick struct {
	Number    uint64    `json:"tick_number"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Clock emits numbered ticks at a fixed interval on its own goroutine.
type Clock struct {
	source   string
	interval time.Duration
	emit     func(Tick)

	seq     atomic.Uint64
	stop    chan struct{}
	done    chan struct{}
	started atomic.Bool
	stopped atomic.Bool
}

// NewClock builds a clock that calls emit for every tick. The clock does
// not run until Start is called.
func NewClock(source string, interval time.Duration, emit func(Tick)) *Clock {
	return &Clock{
		source:   source,
		interval: interval,
		emit:     emit,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Source returns the emitter name stamped on every tick.
func (c *Clock) Source() string { return c.source }

// Interval returns the configured tick period.
func (c *Clock) Interval() time.Duration { return c.interval }

// Current returns the number of the most recently emitted tick, 0 if none.
func (c *Clock) Current() uint64 { return c.seq.Load() }

// Start launches the clock goroutine. Starting twice is a no-op.
func (c *Clock) Start() {
	if c.interval <= 0 || !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.run()
}

func (c *Clock) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.emit(Tick{
				Number:    c.seq.Add(1),
				Timestamp: now,
				Source:    c.source,
			})
		}
	}
}

// Stop halts the clock and waits for the emit callback in flight, if
// any, to return. Safe to call more than once.
func (c *Clock) Stop() {
	if !c.started.Load() {
		return
	}
	if c.stopped.CompareAndSwap(false, true) {
		close(c.stop)
	}
	<-c.done
}
