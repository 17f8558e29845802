package engine

import (
	"context"
	"time"
)

// DefaultEpochInterval is the cadence at which Timekeeper advances the
// engine-wide epoch during normal operation and shutdown.
const DefaultEpochInterval = 100 * time.Millisecond

// Timekeeper advances an Engine's epoch counter at a fixed cadence so that
// Stores with an armed deadline interrupt promptly. It must be run as a
// goroutine and stops when ctx is done, issuing one final increment so any
// call blocked at the moment of cancellation observes the new epoch without
// waiting for the next tick.
type Timekeeper struct {
	engine   Engine
	interval time.Duration
}

// NewTimekeeper returns a Timekeeper driving engine's epoch at interval. An
// interval of zero uses DefaultEpochInterval.
func NewTimekeeper(e Engine, interval time.Duration) *Timekeeper {
	if interval <= 0 {
		interval = DefaultEpochInterval
	}
	return &Timekeeper{engine: e, interval: interval}
}

// Run drives the epoch ticker until ctx is canceled.
func (tk *Timekeeper) Run(ctx context.Context) {
	log.Tracef("epoch timekeeper started (interval %s)", tk.interval)

	ticker := time.NewTicker(tk.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tk.engine.IncrementEpoch()
		case <-ctx.Done():
			// Nudge one final time so any blocked call observes shutdown
			// promptly instead of waiting for the next tick.
			tk.engine.IncrementEpoch()
			log.Tracef("epoch timekeeper done")
			return
		}
	}
}
