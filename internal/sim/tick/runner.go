// Package tick drives a fixed-rate simulation callback in real time.
package tick

import (
	"context"
	"time"
)

// Clock abstracts time so the runner can be tested without sleeping.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration)
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type Config struct {
	TickRateHz int
	// MaxCatchUpTicks caps how many overdue ticks fire in one loop pass.
	MaxCatchUpTicks int
	// MaxSleepSlice bounds each wait so cancellation stays responsive.
	MaxSleepSlice time.Duration
	Clock         Clock
}

type Stats struct {
	Fired   uint64
	Slipped uint64
}

// Runner schedules ticks. Its counter is bookkeeping only; the simulation
// owns the authoritative tick.
type Runner struct {
	interval time.Duration
	maxCatch int
	slice    time.Duration
	clock    Clock

	next  time.Time
	stats Stats
}

func NewRunner(cfg Config) *Runner {
	hz := cfg.TickRateHz
	if hz <= 0 {
		hz = 20
	}
	maxCatch := cfg.MaxCatchUpTicks
	if maxCatch < 1 {
		maxCatch = 1
	}
	slice := cfg.MaxSleepSlice
	if slice <= 0 {
		slice = 5 * time.Millisecond
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Runner{
		interval: time.Second / time.Duration(hz),
		maxCatch: maxCatch,
		slice:    slice,
		clock:    clock,
	}
}

func (r *Runner) Interval() time.Duration { return r.interval }

func (r *Runner) Stats() Stats { return r.stats }

// Run fires fn once per deadline until ctx is done. When deadlines were
// missed it fires up to MaxCatchUpTicks times, then resynchronizes the next
// deadline instead of replaying the whole backlog. Cancellation is observed
// between ticks only.
func (r *Runner) Run(ctx context.Context, fn func(n uint64)) error {
	r.next = r.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := r.clock.Now()
		if now.Before(r.next) {
			wait := r.next.Sub(now)
			if wait > r.slice {
				wait = r.slice
			}
			r.clock.Sleep(ctx, wait)
			continue
		}

		fired := 0
		for !now.Before(r.next) && fired < r.maxCatch {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.stats.Fired++
			fn(r.stats.Fired)
			fired++
			r.next = r.next.Add(r.interval)
		}
		if !now.Before(r.next) {
			r.stats.Slipped++
			r.next = r.clock.Now().Add(r.interval)
		}
	}
}
