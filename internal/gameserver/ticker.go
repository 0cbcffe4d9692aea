package gameserver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StepFunc advances the world to now and reports how many NPCs were moving.
type StepFunc func(now time.Time) int

// Ticker drives the progression step on a fixed interval.
//
// Invariant: at most one step runs at a time. A tick that fires while the
// previous step is still running is skipped, not queued.
type Ticker struct {
	interval time.Duration
	step     StepFunc
	now      func() time.Time
	logger   *zap.Logger

	running atomic.Bool
	ticks   atomic.Uint64
	skipped atomic.Uint64
	wg      sync.WaitGroup
}

// NewTicker returns a Ticker that calls step every interval.
//
// Precondition: interval must be > 0; step and logger must be non-nil.
func NewTicker(interval time.Duration, step StepFunc, now func() time.Time, logger *zap.Logger) *Ticker {
	if interval <= 0 {
		panic("gameserver.NewTicker: interval must be > 0")
	}
	if now == nil {
		now = time.Now
	}
	return &Ticker{
		interval: interval,
		step:     step,
		now:      now,
		logger:   logger,
	}
}

// Run fires ticks until ctx is cancelled, then waits for any in-flight step.
//
// Postcondition: No step is running when Run returns.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	defer t.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick()
		}
	}
}

// Tick starts one step unless a step is already running.
//
// Postcondition: Returns true if a step was started, false if skipped.
func (t *Ticker) Tick() bool {
	if !t.running.CompareAndSwap(false, true) {
		n := t.skipped.Add(1)
		t.logger.Debug("tick skipped: previous step still running", zap.Uint64("skipped_total", n))
		return false
	}
	t.ticks.Add(1)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.running.Store(false)

		start := time.Now()
		moving := t.step(t.now())
		if elapsed := time.Since(start); elapsed > t.interval {
			t.logger.Warn("step overran tick interval",
				zap.Duration("elapsed", elapsed),
				zap.Duration("interval", t.interval),
				zap.Int("moving", moving),
			)
		}
	}()
	return true
}

// Ticks returns the number of steps started.
func (t *Ticker) Ticks() uint64 { return t.ticks.Load() }

// Skipped returns the number of ticks dropped because a step was running.
func (t *Ticker) Skipped() uint64 { return t.skipped.Load() }
