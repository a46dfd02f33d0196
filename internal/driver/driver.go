// Package driver implements the periodic trigger loop (spec component
// G): a fixed-rate poll that evaluates three independent rules —
// low-memory, warm-up, and matching-rate — against the generation's
// current usage and recent allocation rate, and requests a cycle the
// moment any one of them fires.
package driver

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alphadose/zengc/internal/config"
	"github.com/alphadose/zengc/internal/engine"
)

// Driver runs one generation's trigger loop.
type Driver struct {
	cfg    config.Config
	engine *engine.Engine
	logger *zap.Logger

	rate *allocRateSampler

	warmupMu      sync.Mutex
	warmupCrossed int

	pauseMu   sync.Mutex
	pauseCond *sync.Cond
	paused    bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Driver bound to the given engine. The driver starts
// paused (spec §4.G): the host is expected to call Unpause once it has
// attached at least one mutator, so the trigger rules don't fire against
// an empty, unattended heap.
func New(cfg config.Config, eng *engine.Engine, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{
		cfg:    cfg,
		engine: eng,
		logger: logger,
		rate:   newAllocRateSampler(cfg.AllocRateSamples),
		stopCh: make(chan struct{}),
		paused: true,
	}
	d.pauseCond = sync.NewCond(&d.pauseMu)
	return d
}

// Run polls at cfg.CheckRateHZ until ctx is cancelled or Shutdown is
// called, requesting a cycle each time a trigger rule fires. Intended to
// run as its own goroutine (e.g. launched by an errgroup.Group alongside
// the engine's Run).
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.CheckPeriod())
	defer ticker.Stop()
	stopUnpause := context.AfterFunc(ctx, d.Unpause)
	defer stopUnpause()

	d.logger.Info("GC driver started", zap.Float64("check_rate_hz", d.cfg.CheckRateHZ))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stopCh:
			d.logger.Info("GC driver shutting down")
			return nil
		case <-ticker.C:
			d.tick()
		}
	}
}

// Shutdown requests the Run loop to exit, unpausing the driver so a Run
// parked on the pause gate can observe the request. Safe to call more
// than once.
func (d *Driver) Shutdown() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.Unpause()
}

// Pause suspends trigger evaluation without stopping the loop entirely,
// for hosts that need to quiesce collection during some external
// operation (e.g. a snapshot export) without tearing the driver down.
func (d *Driver) Pause() {
	d.pauseMu.Lock()
	d.paused = true
	d.pauseMu.Unlock()
}

// Unpause resumes trigger evaluation.
func (d *Driver) Unpause() {
	d.pauseMu.Lock()
	d.paused = false
	d.pauseCond.Broadcast()
	d.pauseMu.Unlock()
}

func (d *Driver) waitIfPaused() {
	d.pauseMu.Lock()
	for d.paused {
		d.pauseCond.Wait()
	}
	d.pauseMu.Unlock()
}

func (d *Driver) tick() {
	d.waitIfPaused()

	tr := d.engine.Tracker()
	usage := tr.CurrentUsage()
	max := tr.MaxSize()
	now := time.Now()
	allocRate := d.rate.Sample(tr.LifetimeBytesAllocated(), now)

	var reason string
	switch {
	case d.lowMemoryTriggered(usage, max):
		reason = "low_memory"
	case d.warmupTriggered(usage, max):
		reason = "warmup"
	case d.matchingRateTriggered(usage, allocRate):
		reason = "matching_rate"
	default:
		return
	}

	d.logger.Debug("GC cycle triggered",
		zap.String("reason", reason),
		zap.Uint64("usage", usage),
		zap.Uint64("max", max),
		zap.Float64("alloc_rate_bytes_per_sec", allocRate),
	)
	d.engine.StartCycleAsync()
}

// lowMemoryTriggered fires once usage crosses cfg.SoftLimitFraction of
// the generation's ceiling.
func (d *Driver) lowMemoryTriggered(usage, max uint64) bool {
	return float64(usage) >= d.cfg.SoftLimitFraction*float64(max)
}

// warmupTriggered fires the first cfg.WarmupStepCount times usage
// crosses successive multiples of cfg.WarmupStepFraction (by default
// 10%, 20%, 30%, 40%, 50%), so a generation that starts small still gets
// a handful of early, cheap cycles before it has enough data for the
// matching-rate rule to be meaningful.
func (d *Driver) warmupTriggered(usage, max uint64) bool {
	d.warmupMu.Lock()
	defer d.warmupMu.Unlock()

	if d.warmupCrossed >= d.cfg.WarmupStepCount {
		return false
	}
	nextThreshold := float64(d.warmupCrossed+1) * (d.cfg.WarmupStepFraction * float64(max))
	if float64(usage) < nextThreshold {
		return false
	}
	d.warmupCrossed++
	return true
}

// matchingRateTriggered fires when the projected time until the
// generation exhausts its headroom against avg_threshold — the running
// mean of usage right before the last few sweeps, not the hard ceiling —
// at the current allocation rate would beat the average cycle time
// (inflated by cfg.PanicFactor for safety margin), or would miss even
// the next tick outright (the "catch-up" branch). Per spec §4.G; see
// scenario S5.
func (d *Driver) matchingRateTriggered(usage uint64, allocRate float64) bool {
	if allocRate <= 0 {
		return false
	}
	avgCycleTime := d.engine.AverageCycleTime()
	if avgCycleTime <= 0 {
		return false
	}

	threshold, ok := d.engine.AvgThreshold(d.engine.Tracker().MaxSize())
	if !ok {
		return false
	}

	bytesToOOM := 0.0
	if threshold > usage {
		bytesToOOM = float64(threshold - usage)
	}
	secondsToOOM := bytesToOOM / (allocRate + 1)
	adjustedCycleTime := avgCycleTime * d.cfg.PanicFactor

	return secondsToOOM < d.cfg.CheckPeriod().Seconds() || secondsToOOM < adjustedCycleTime
}
