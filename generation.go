// Package zengc implements a concurrent, generational, tracing
// garbage collector for a caller-managed heap of opaque byte payloads,
// exposed as a small collection of Go types a host embeds directly —
// there is no separate runtime process, and no assumption that the
// objects it tracks are Go values at all.
package zengc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/alphadose/zengc/internal/driver"
	"github.com/alphadose/zengc/internal/engine"
	"github.com/alphadose/zengc/internal/errs"
	"github.com/alphadose/zengc/internal/tracker"
)

// Generation is one collector instance (spec component J): it owns an
// allocation tracker, a cycle engine, and a trigger-rule driver, and is
// the entry point for creating Mutators and running the collector's
// background goroutines.
type Generation struct {
	cfg     Config
	tracker *tracker.AllocTracker
	engine  *engine.Engine
	driver  *driver.Driver

	group  *errgroup.Group
	cancel context.CancelFunc

	startOnce    sync.Once
	shutdownOnce sync.Once
}

// NewGeneration constructs a Generation with a maxSize-byte accounting
// ceiling and the given tuning configuration.
func NewGeneration(maxSize uint64, cfg Config) *Generation {
	tr := tracker.New(maxSize, cfg.ContextPreReserveSize, cfg.ContextPreReserveSkip)
	eng := engine.New(cfg, tr, packageLogger)
	drv := driver.New(cfg, eng, packageLogger)
	return &Generation{cfg: cfg, tracker: tr, engine: eng, driver: drv}
}

// Start launches the generation's GC thread and trigger-rule driver as
// sibling goroutines under an errgroup.Group, so a failure in either
// propagates to both via ctx cancellation. Start is a no-op on any call
// after the first.
func (g *Generation) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		g.cancel = cancel
		grp, grpCtx := errgroup.WithContext(runCtx)
		g.group = grp
		grp.Go(func() error { return g.engine.Run(grpCtx) })
		grp.Go(func() error { return g.driver.Run(grpCtx) })
	})
}

// Shutdown requests both goroutines stop and waits for them to return.
// Safe to call more than once; safe to call even if Start was never
// called. The engine's Run loop reports its own clean exit as
// errs.ErrShutdown (a benign sentinel, not a failure); Shutdown absorbs
// it so a normal, requested shutdown reports nil, and only a genuine
// failure (e.g. ctx cancellation) propagates from the group.
func (g *Generation) Shutdown() error {
	g.shutdownOnce.Do(func() {
		g.engine.Shutdown()
		g.driver.Shutdown()
		if g.cancel != nil {
			g.cancel()
		}
	})
	if g.group == nil {
		return nil
	}
	if err := g.group.Wait(); err != nil && !errors.Is(err, errs.ErrShutdown) {
		return err
	}
	return nil
}

// Pause suspends the driver's trigger evaluation without stopping the GC
// thread; StartCycle/StartCycleAsync still work normally while paused.
func (g *Generation) Pause() { g.driver.Pause() }

// Unpause resumes trigger evaluation, whether suspended by Pause or
// because the driver has not been unpaused since NewGeneration (the
// driver always starts paused). Call this once at least one Mutator is
// attached; before that, trigger rules have nothing useful to evaluate.
func (g *Generation) Unpause() { g.driver.Unpause() }

// StartCycle requests a cycle and blocks until it completes.
func (g *Generation) StartCycle() { g.engine.StartCycle() }

// StartCycleAsync requests a cycle without waiting for it to complete,
// coalescing with any cycle already pending, and returns the cycle id
// in effect at the time of the call. Pass that id to WaitCycle to block
// until the requested cycle (or a later one) has completed.
func (g *Generation) StartCycleAsync() uint64 { return g.engine.StartCycleAsync() }

// WaitCycle blocks until the cycle id returned by a prior
// StartCycleAsync has been passed (i.e. that cycle, or a later one, has
// completed), or until deadline elapses. A zero deadline waits forever.
func (g *Generation) WaitCycle(id uint64, deadline time.Time) error {
	return g.engine.WaitCycle(id, deadline)
}

// RegisterMetrics adds this generation's Prometheus collectors to reg.
func (g *Generation) RegisterMetrics(reg prometheus.Registerer) error {
	return g.engine.RegisterMetrics(reg)
}

// NewMutator attaches a new per-thread Mutator to this generation.
func (g *Generation) NewMutator() *Mutator {
	return &Mutator{gen: g, inner: g.engine.RegisterMutator()}
}
