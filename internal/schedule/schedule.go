// Package schedule runs a daemon's work function on a polling cadence. The
// stop signal is checked once per cycle, so in-flight work always finishes
// before shutdown.
package schedule

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// Options control the polling loop.
type Options struct {
	// Interval between poll cycles.
	Interval time.Duration
	// OneTime runs a single cycle and returns.
	OneTime bool
	// NoWait skips the initial wait and polls immediately on start.
	NoWait bool
}

// Loop repeatedly invokes work until the context is canceled or, in
// one-time mode, after the first cycle. A work error ends a cycle but not
// the loop; persistent failures are retried at the polling cadence.
func Loop(ctx context.Context, opts Options, work func(context.Context) error) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	// The limiter caps the cycle rate even when work returns instantly
	// (e.g. an always-empty queue).
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	limiter.Allow() // bucket starts full; drain so every wait is real
	if !opts.NoWait {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	for {
		if err := work(ctx); err != nil {
			if opts.OneTime {
				return err
			}
			log.Printf("poll cycle failed: %v", err)
		}
		if opts.OneTime {
			return nil
		}
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				log.Printf("stopping: %v", ctx.Err())
				return nil
			}
			return err
		}
	}
}
