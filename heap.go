package zengc

import (
	"context"

	"github.com/pkg/errors"

	"github.com/alphadose/zengc/internal/engine"
	"github.com/alphadose/zengc/internal/tracker"
)

// maxAllocRetries bounds how many synchronous collection cycles Alloc
// will force before giving up, mirroring the original implementation's
// heap allocation path: a failed allocation is not necessarily fatal,
// since a cycle might reclaim enough headroom for it to succeed on
// retry, but an allocation request that still doesn't fit after several
// full cycles is treated as genuinely out of memory rather than retried
// forever.
const maxAllocRetries = 5

// Object is one tracked allocation: a fixed-size payload plus the
// bookkeeping the collector needs to trace and sweep it. Its zero value
// is not meaningful; Objects are only produced by Mutator.Alloc.
type Object = tracker.AllocUnit

// RootHandle identifies one root reference a Mutator holds, returned by
// AddRoot/DupRoot so it can later be passed to RemoveRoot or DupRoot
// again.
type RootHandle = engine.RootHandle

// Mutator is a host thread's handle into a Generation: its allocation
// context, its root set, and the GC-lock token that delimits when it is
// safe for it to be touching the heap at all. A Mutator must not be
// shared between goroutines; give each one its own.
type Mutator struct {
	gen   *Generation
	inner *engine.Mutator
}

// Close detaches the mutator from its generation. Any objects it still
// holds roots to must have those roots removed (or duplicated onto
// another mutator) first, or they become eligible for collection.
func (m *Mutator) Close() {
	m.gen.engine.UnregisterMutator(m.inner)
}

// Block acquires this mutator's share of the generation's GC-lock,
// marking it as actively touching the heap. Reentrant: nested
// Block/Unblock pairs from the same Mutator are allowed.
func (m *Mutator) Block() {
	m.gen.engine.GCLock().Block(&m.inner.Token)
}

// Unblock releases one level of this mutator's GC-lock hold.
func (m *Mutator) Unblock() {
	m.gen.engine.GCLock().Unblock(&m.inner.Token)
}

// Alloc reserves and returns a new Object of the given payload size. If
// the generation's tracker is full, Alloc forces up to maxAllocRetries
// synchronous collection cycles, retrying after each one, before
// reporting ErrOutOfMemory. ctx only bounds the allocation-pacing wait
// (OnPreallocate); the retry cycles themselves are not cancellable
// mid-flight.
func (m *Mutator) Alloc(ctx context.Context, size uint64) (*Object, error) {
	if err := m.gen.engine.OnPreallocate(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		unit, err := m.gen.engine.Tracker().Alloc(m.inner.Ctx, size)
		if err == nil {
			m.gen.engine.OnAllocate(unit)
			return unit, nil
		}
		lastErr = err
		if attempt == maxAllocRetries {
			break
		}
		m.gen.engine.StartCycle()
	}
	return nil, errors.Wrapf(lastErr, "allocation of %d bytes failed after %d forced cycles", size, maxAllocRetries)
}

// AddRoot registers obj as a root this mutator anchors, preventing it
// (and anything reachable from it) from being collected.
func (m *Mutator) AddRoot(obj *Object) RootHandle {
	return m.inner.AddRoot(obj)
}

// DupRoot duplicates an existing root handle: the underlying object
// gains a second, independently removable root entry.
func (m *Mutator) DupRoot(h RootHandle) RootHandle {
	return m.inner.DupRoot(h)
}

// RemoveRoot drops a root handle this mutator holds.
func (m *Mutator) RemoveRoot(h RootHandle) {
	m.inner.RemoveRoot(h)
}

// RootCount reports how many root entries this mutator currently holds.
func (m *Mutator) RootCount() int {
	return m.inner.RootCount()
}

// WriteField atomically exchanges the strong reference field at
// fieldOffset within parent's payload for newValue, then runs the write
// barrier on whatever value was just clobbered. The whole operation runs
// inside a Block/Unblock span (spec §4.F's write-barrier contract: "1.
// block_gc (shared). 2. exchange slot. 3. conditionally stamp/remark. 4.
// unblock_gc"), so the GC's stop-the-world windows cannot observe a
// heap mutation half-applied. The exchange must happen before the
// barrier observes the old value, not as a separate load-then-store:
// two mutators racing on the same field must each see the other's write
// exactly once, and a non-atomic load-then-store could drop one
// mutator's update entirely. Hosts must route every mutation of a
// descriptor-declared strong field through WriteField rather than
// writing the payload bytes directly — skipping the barrier during
// concurrent marking can let a still-reachable object be swept.
func (m *Mutator) WriteField(parent *Object, fieldOffset uintptr, newValue *Object) {
	m.Block()
	defer m.Unblock()

	old := parent.SwapField(fieldOffset, newValue)
	m.gen.engine.WriteBarrier(m.inner, old)
}

// ReadField reads the reference field at fieldOffset within obj's
// payload, running the read barrier on the value returned. Spec §4.F
// treats a rooting read the same as a write for barrier purposes, so
// this is bracketed by Block/Unblock exactly like WriteField.
func (m *Mutator) ReadField(obj *Object, fieldOffset uintptr) *Object {
	m.Block()
	defer m.Unblock()

	child := obj.LoadField(fieldOffset)
	m.gen.engine.ReadBarrier(child)
	return child
}
