package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alphadose/zengc/internal/markqueue"
	"github.com/alphadose/zengc/internal/tracker"
)

// enqueueRoot schedules obj for tracing unless it has already been
// stamped with this cycle's polarity. It tries the bounded mark ring
// first and falls back to the deferred ring (capturing obj as its own
// resume point, field index 0) only once that's full too. If both rings
// are full it panics with a *markqueue.OverflowError; the queue sizes
// bound how much can be pending, but nothing at construction rules this
// double failure out.
func (e *Engine) enqueueRoot(obj *tracker.AllocUnit) {
	if obj == nil || !e.needsRemark(obj) {
		return
	}
	if e.queues.Mark.Push(obj) {
		return
	}
	if e.queues.Deferred.Push(markqueue.StateEntry[*tracker.AllocUnit]{Parent: obj, ResumeFieldIndex: 0}) {
		return
	}
	panic(e.queues.Overflow("enqueueing a root"))
}

// markOne traces obj's strong fields, then (if the descriptor marks a
// trailing reference array) every slot past the fixed fields, starting
// at resumeFrom in that combined index space — fixed field indices
// first, then trailing-array slot indices, so a deferred resume point
// recorded mid-array picks up exactly where it left off without
// re-walking the fixed fields. Stamps obj itself with the current
// polarity the first time through (resumeFrom == 0). A field whose
// child can't be pushed onto the mark ring is recorded as a deferred
// resume point for this same object rather than losing the reference.
func (e *Engine) markOne(obj *tracker.AllocUnit, resumeFrom int) {
	if resumeFrom == 0 {
		obj.SetMark(e.markedPolarity.Load())
	}
	desc := obj.Descriptor()
	if desc == nil {
		return
	}
	fieldCount := len(desc.Fields)
	trailingCount := 0
	if desc.HasTrailingReferenceArray && obj.Size() > uint64(desc.ObjectSize) {
		trailingCount = int((obj.Size() - uint64(desc.ObjectSize)) / uint64(tracker.PointerSize))
	}

	for i := resumeFrom; i < fieldCount+trailingCount; i++ {
		var offset uintptr
		if i < fieldCount {
			field := desc.Fields[i]
			if field.Strength != tracker.StrongReference {
				continue
			}
			offset = field.ByteOffset
		} else {
			offset = desc.ObjectSize + uintptr(i-fieldCount)*tracker.PointerSize
		}
		child := obj.LoadField(offset)
		if child == nil || !e.needsRemark(child) {
			continue
		}
		if e.queues.Mark.Push(child) {
			continue
		}
		if e.queues.Deferred.Push(markqueue.StateEntry[*tracker.AllocUnit]{Parent: obj, ResumeFieldIndex: i}) {
			return
		}
		panic(e.queues.Overflow(fmt.Sprintf("tracing field %d", i)))
	}
}

// drainMarkQueues runs the mark loop to quiescence: pop from the mark
// ring in preference to the deferred ring (deferred entries are resume
// points, not fresh work, so draining fresh work first keeps the
// deferred ring as empty as possible) until both are empty.
func (e *Engine) drainMarkQueues() {
	for {
		if obj, ok := e.queues.Mark.Pop(); ok {
			e.markOne(obj, 0)
			continue
		}
		if entry, ok := e.queues.Deferred.Pop(); ok {
			e.markOne(entry.Parent, entry.ResumeFieldIndex)
			continue
		}
		return
	}
}

// drainRemarkShared empties the cross-mutator remark queue, scheduling
// every chunk's objects for tracing.
func (e *Engine) drainRemarkShared() {
	e.remarkShared.DrainAll(func(chunk []*tracker.AllocUnit) {
		for _, obj := range chunk {
			e.enqueueRoot(obj)
		}
	})
}

// runCycle executes exactly one GC cycle: stop-the-world root and heap
// snapshot with a polarity flip, concurrent tracing, a second
// stop-the-world window to reconcile any last write-barrier entries and
// sweep, then publishes stats and wakes anyone blocked in WaitCycle.
func (e *Engine) runCycle() {
	cycleStart := time.Now()
	e.metrics.cyclesStarted.Inc()
	e.cycleInProgress.Store(true)
	defer e.cycleInProgress.Store(false)

	stwBeginStart := time.Now()
	e.lock.EnterExclusive()

	newPolarity := !e.markedPolarity.Load()
	e.markedPolarity.Store(newPolarity)

	e.eachMutator(func(m *Mutator) {
		m.eachRoot(e.enqueueRoot)
	})
	heapSnapshot := e.tracker.TakeSnapshot()

	e.lock.ExitExclusive()
	stwBeginDuration := time.Since(stwBeginStart)

	e.markingInProgress.Store(true)
	e.drainMarkQueues()
	e.drainRemarkShared()
	e.drainMarkQueues()
	e.markingInProgress.Store(false)

	stwEndStart := time.Now()
	e.lock.EnterExclusive()

	// Reconcile: anything a mutator's write barrier recorded between the
	// last drain above and now acquiring exclusive access is still
	// sitting in local buffers or the shared queue. Mutators cannot add
	// to either while blocked, so this drain is guaranteed to converge.
	e.eachMutator(func(m *Mutator) {
		for _, obj := range m.Local.Residual() {
			e.enqueueRoot(obj)
		}
		m.Local.Reset()
	})
	e.drainRemarkShared()
	e.drainMarkQueues()

	var totalCount, totalSize, liveCount, liveSize uint64
	freedBytes := e.tracker.FilterSnapshotAndDelete(heapSnapshot, func(u *tracker.AllocUnit) bool {
		totalCount++
		totalSize += u.Size()
		survives := !e.needsRemark(u)
		if survives {
			liveCount++
			liveSize += u.Size()
		}
		return survives
	})

	usageBeforeSweep := e.tracker.CurrentUsage() + freedBytes
	e.bytesUsedRightBeforeSweeping.Store(usageBeforeSweep)
	e.bytesBeforeSweepStats.Append(float64(usageBeforeSweep))
	e.liveSetSize.Store(liveSize)

	e.cycleStatusMu.Lock()
	e.cycleID++
	finishedCycleID := e.cycleID
	e.cycleWasInvoked = false
	e.cycleStatusCond.Broadcast()
	e.cycleStatusMu.Unlock()

	e.lock.ExitExclusive()
	stwEndDuration := time.Since(stwEndStart)

	cycleDuration := time.Since(cycleStart)
	e.cycleTimeSamples.Append(cycleDuration.Seconds())
	e.averageCycleTime.Store(e.cycleTimeSamples.Average())

	stwTotal := stwBeginDuration + stwEndDuration
	e.statsMu.Lock()
	e.stats.CyclesStartCount++
	e.stats.CyclesCompletedCount++
	e.stats.TotalObjectCount = totalCount
	e.stats.TotalObjectSize = totalSize
	e.stats.SweptObjectCount += totalCount - liveCount
	e.stats.SweptObjectSize += freedBytes
	e.stats.LiveObjectCount = liveCount
	e.stats.LiveObjectSize = liveSize
	e.stats.STWTime += stwTotal
	e.stats.CycleTime += cycleDuration
	e.statsMu.Unlock()

	e.metrics.cyclesCompleted.Inc()
	e.metrics.sweptObjects.Add(float64(totalCount - liveCount))
	e.metrics.sweptBytes.Add(float64(freedBytes))
	e.metrics.liveObjects.Set(float64(liveCount))
	e.metrics.liveBytes.Set(float64(liveSize))
	e.metrics.cycleDuration.Observe(cycleDuration.Seconds())
	e.metrics.stopTheWorldTime.Observe(stwTotal.Seconds())

	e.logger.Info("GC cycle complete",
		zap.Uint64("cycle_id", finishedCycleID),
		zap.Duration("cycle_time", cycleDuration),
		zap.Duration("stop_the_world_time", stwTotal),
		zap.Uint64("live_objects", liveCount),
		zap.Uint64("live_bytes", liveSize),
		zap.Uint64("swept_bytes", freedBytes),
	)
}
