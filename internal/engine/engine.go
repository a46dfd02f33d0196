// Package engine implements the GC cycle engine (spec component F /
// §4.F): the phase sequence of one concurrent mark-sweep cycle, the
// mark-bit polarity convention, the root snapshot, the write-barrier
// contract mutators must follow, and cycle coalescing/waiting.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/alphadose/zengc/internal/config"
	"github.com/alphadose/zengc/internal/errs"
	"github.com/alphadose/zengc/internal/gclock"
	"github.com/alphadose/zengc/internal/markqueue"
	"github.com/alphadose/zengc/internal/remark"
	"github.com/alphadose/zengc/internal/tracker"
	"github.com/alphadose/zengc/internal/window"
)

// Stats is the plain lifetime-counters snapshot GetStats returns,
// mirroring struct gc_stats in the original implementation.
type Stats struct {
	CyclesStartCount     uint64
	CyclesCompletedCount uint64

	TotalObjectCount uint64
	TotalObjectSize  uint64

	SweptObjectCount uint64
	SweptObjectSize  uint64

	LiveObjectCount uint64
	LiveObjectSize  uint64

	STWTime   time.Duration
	CycleTime time.Duration
}

// Engine is one generation's GC cycle engine. The zero value is not
// usable; construct with New.
type Engine struct {
	cfg     config.Config
	logger  *zap.Logger
	tracker *tracker.AllocTracker
	lock    *gclock.Lock

	queues       *markqueue.Queues[*tracker.AllocUnit]
	remarkShared *remark.SharedQueue[[]*tracker.AllocUnit]

	cycleTimeSamples      *window.Window
	bytesBeforeSweepStats *window.Window

	// markedPolarity is which Bool value currently means "already
	// traced this cycle". It flips once per cycle (during the
	// stop-the-world begin phase) instead of every live object's mark
	// bit being cleared between cycles.
	markedPolarity    atomic.Bool
	cycleInProgress   atomic.Bool
	markingInProgress atomic.Bool

	cycleStatusMu   sync.Mutex
	cycleStatusCond *sync.Cond
	cycleID         uint64
	cycleWasInvoked bool

	wake         chan struct{}
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	statsMu sync.Mutex
	stats   Stats

	bytesUsedRightBeforeSweeping atomic.Uint64
	liveSetSize                  atomic.Uint64
	averageCycleTime             atomic.Float64

	mutatorsMu sync.Mutex
	mutators   map[*Mutator]struct{}

	// pacer throttles OnPreallocate when cfg.PacingMicrosec configures an
	// artificial delay ahead of allocation, giving the driver's
	// matching-rate trigger room to catch up on a generation that would
	// otherwise allocate far faster than it can be collected.
	pacer *rate.Limiter

	metrics *metricsCollector
}

// New constructs an Engine bound to the given tracker. The caller is
// responsible for running Run in its own goroutine (the root package's
// Generation does this via an errgroup).
func New(cfg config.Config, tr *tracker.AllocTracker, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:                   cfg,
		logger:                logger,
		tracker:               tr,
		lock:                  gclock.New(),
		queues:                markqueue.NewQueues[*tracker.AllocUnit](cfg.MarkQueueSize, cfg.DeferredMarkQueueSize),
		remarkShared:          remark.NewSharedQueue[[]*tracker.AllocUnit](cfg.MutatorMarkQueueSize),
		cycleTimeSamples:      window.New(cfg.CycleTimeSampleCount),
		bytesBeforeSweepStats: window.New(cfg.TriggerThresholdSamples),
		wake:                  make(chan struct{}, 1),
		shutdownCh:            make(chan struct{}),
		mutators:              make(map[*Mutator]struct{}),
		metrics:               newMetricsCollector(),
	}
	e.cycleStatusCond = sync.NewCond(&e.cycleStatusMu)
	if cfg.PacingMicrosec > 0 {
		ratePerSec := 1e6 / float64(cfg.PacingMicrosec)
		e.pacer = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return e
}

// OnPreallocate is the pacing hook a heap calls before reserving space
// for a new allocation. It blocks only when the generation was
// configured with a non-zero pacing interval; ctx lets a caller abandon
// the wait (e.g. on shutdown) without leaking the goroutine.
func (e *Engine) OnPreallocate(ctx context.Context) error {
	if e.pacer == nil {
		return nil
	}
	return e.pacer.Wait(ctx)
}

// GCLock exposes the generation's GC-lock so the heap façade can
// delimit mutator critical sections.
func (e *Engine) GCLock() *gclock.Lock { return e.lock }

// RegisterMetrics adds this engine's Prometheus collectors to reg.
func (e *Engine) RegisterMetrics(reg prometheus.Registerer) error {
	return e.metrics.Register(reg)
}

// Tracker exposes the generation's allocation tracker.
func (e *Engine) Tracker() *tracker.AllocTracker { return e.tracker }

// RegisterMutator creates and attaches a new per-thread Mutator.
func (e *Engine) RegisterMutator() *Mutator {
	m := newMutator(e.tracker.NewContext(), e.cfg.LocalRemarkBufferSize)
	e.mutatorsMu.Lock()
	e.mutators[m] = struct{}{}
	e.mutatorsMu.Unlock()
	return m
}

// UnregisterMutator detaches a Mutator. Its allocation context is freed
// from the tracker, which moves any units still on the context's local
// list onto the global list so later cycles keep tracking them.
func (e *Engine) UnregisterMutator(m *Mutator) {
	e.mutatorsMu.Lock()
	delete(e.mutators, m)
	e.mutatorsMu.Unlock()
	e.tracker.FreeContext(m.Ctx)
}

func (e *Engine) eachMutator(fn func(m *Mutator)) {
	e.mutatorsMu.Lock()
	snapshot := make([]*Mutator, 0, len(e.mutators))
	for m := range e.mutators {
		snapshot = append(snapshot, m)
	}
	e.mutatorsMu.Unlock()
	for _, m := range snapshot {
		fn(m)
	}
}

// MarkingInProgress reports whether the engine is currently in the
// concurrent-mark phase of a cycle — the signal the write barrier (and
// test harnesses exercising scenario S2) check.
func (e *Engine) MarkingInProgress() bool { return e.markingInProgress.Load() }

// CycleInProgress reports whether a cycle is currently running end to
// end (including its STW windows, marking, reconciliation, and sweep).
func (e *Engine) CycleInProgress() bool { return e.cycleInProgress.Load() }

// Run is the GC thread's main loop: wait for a start-cycle or shutdown
// request, run one cycle, repeat. It returns when ctx is cancelled or
// Shutdown has been called. Intended to be launched as the sole
// goroutine driving this engine (e.g. via errgroup.Group.Go).
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("GC thread started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.shutdownCh:
			e.logger.Info("GC thread shutting down")
			return errs.ErrShutdown
		case <-e.wake:
		}

		if e.consumePendingStart() {
			e.runCycle()
		}
	}
}

// Shutdown requests the GC thread's Run loop to exit. Safe to call more
// than once.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() { close(e.shutdownCh) })
}

func (e *Engine) consumePendingStart() bool {
	e.cycleStatusMu.Lock()
	defer e.cycleStatusMu.Unlock()
	return e.cycleWasInvoked
}

// StartCycleAsync requests a cycle and returns immediately with the
// cycle id in effect at the time of the call (i.e. the id that WaitCycle
// should wait past). Concurrent calls before the GC thread has picked up
// the request coalesce onto a single cycle — both callers observe the
// same returned id and the GC thread runs the cycle exactly once (spec
// invariant 7, scenario S4).
func (e *Engine) StartCycleAsync() uint64 {
	e.cycleStatusMu.Lock()
	last := e.cycleID
	if e.cycleWasInvoked {
		e.cycleStatusMu.Unlock()
		return last
	}
	e.cycleWasInvoked = true
	e.cycleStatusMu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return last
}

// WaitCycle blocks until the generation's cycle id advances past
// baseline, or until deadline elapses (a zero deadline means wait
// forever).
func (e *Engine) WaitCycle(baseline uint64, deadline time.Time) error {
	e.cycleStatusMu.Lock()
	defer e.cycleStatusMu.Unlock()

	if deadline.IsZero() {
		for e.cycleID == baseline {
			e.cycleStatusCond.Wait()
		}
		return nil
	}

	for e.cycleID == baseline {
		if !time.Now().Before(deadline) {
			return errs.ErrCycleTimedOut
		}
		timer := time.AfterFunc(time.Until(deadline), e.cycleStatusCond.Broadcast)
		e.cycleStatusCond.Wait()
		timer.Stop()
	}
	return nil
}

// StartCycle requests a cycle and blocks until it completes.
func (e *Engine) StartCycle() {
	id := e.StartCycleAsync()
	_ = e.WaitCycle(id, time.Time{})
}

// GetStats returns a snapshot of the lifetime counters.
func (e *Engine) GetStats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// AverageCycleTime returns the moving-window average of recent cycle
// durations, in seconds. Used by the driver's matching-rate rule.
func (e *Engine) AverageCycleTime() float64 { return e.averageCycleTime.Load() }

// BytesUsedRightBeforeSweeping returns the most recent usage-before-sweep
// sample.
func (e *Engine) BytesUsedRightBeforeSweeping() uint64 {
	return e.bytesUsedRightBeforeSweeping.Load()
}

// AvgThreshold returns the running mean of bytes_used_right_before_sweeping
// over the last TriggerThresholdSamples cycles, clamped to maxSize, and
// whether any cycle has completed yet. The driver's matching-rate rule
// uses this (not maxSize directly) as the usage level it projects
// exhaustion against, per spec §4.G; before the first cycle completes
// there is no sample to threshold against, so callers should treat ok ==
// false as "rule not yet meaningful".
func (e *Engine) AvgThreshold(maxSize uint64) (threshold uint64, ok bool) {
	if e.bytesBeforeSweepStats.Len() == 0 {
		return 0, false
	}
	avg := e.bytesBeforeSweepStats.Average()
	if avg > float64(maxSize) {
		avg = float64(maxSize)
	}
	return uint64(avg), true
}
