package tracker

import (
	"container/list"
	"sync"

	uatomic "go.uber.org/atomic"

	"github.com/alphadose/zengc/internal/errs"
)

// AllocTracker is the shared accounting and object-listing state behind
// every generation's allocator (spec component C / §4.C). current_usage
// and lifetime_bytes_allocated are lock-free atomics; the global object
// list is a Treiber-stack-style CAS linked list; the per-context list is
// guarded by a single mutex held only across add/remove/snapshot.
type AllocTracker struct {
	maxSize uint64

	currentUsage           uatomic.Uint64
	lifetimeBytesAllocated uatomic.Uint64

	// head is the global unit list: a lock-free Treiber stack. Units
	// land here during sweep, when a survivor no longer needs to be
	// tracked by the context that allocated it, and when a context is
	// freed with units still on its local list.
	head uatomic.Pointer[AllocUnit]

	contextListLock sync.Mutex
	contexts        *list.List // of *AllocContext

	preReserveSize uint64
	preReserveSkip uint64
}

// New returns a tracker that will fail allocations once current usage
// would exceed maxSize. preReserveSize and preReserveSkip are the
// CONTEXT_PRERESERVE_SIZE / CONTEXT_PRERESERVE_SKIP tuning knobs from
// spec §6.
func New(maxSize, preReserveSize, preReserveSkip uint64) *AllocTracker {
	return &AllocTracker{
		maxSize:        maxSize,
		contexts:       list.New(),
		preReserveSize: preReserveSize,
		preReserveSkip: preReserveSkip,
	}
}

// NewContext allocates and registers a new per-mutator AllocContext.
func (t *AllocTracker) NewContext() *AllocContext {
	ctx := &AllocContext{owner: t}
	t.contextListLock.Lock()
	ctx.elem = t.contexts.PushFront(ctx)
	t.contextListLock.Unlock()
	return ctx
}

// FreeContext deregisters ctx. Any units still on its local list are
// moved onto the global list, so the next snapshot still tracks them.
func (t *AllocTracker) FreeContext(ctx *AllocContext) {
	t.contextListLock.Lock()
	for u, _ := ctx.takeLocalList(); u != nil; {
		next := u.loadNext()
		t.pushGlobal(u)
		u = next
	}
	t.contexts.Remove(ctx.elem)
	t.contextListLock.Unlock()
}

// atomicAddIfLessOrEqual is the bounded CAS-add helper the fast and slow
// accounting paths both build on, grounded on the
// util_atomic_add_if_less_* family in the original implementation's
// util.c: add n to *counter, but only if the result would not exceed
// max; report the pre-add value alongside whether it succeeded.
func atomicAddIfLessOrEqual(counter *uatomic.Uint64, n, max uint64) (old uint64, ok bool) {
	for {
		old = counter.Load()
		next := old + n
		if next > max {
			return old, false
		}
		if counter.CompareAndSwap(old, next) {
			return old, true
		}
	}
}

func (t *AllocTracker) slowAccount(n uint64) bool {
	if _, ok := atomicAddIfLessOrEqual(&t.currentUsage, n, t.maxSize); !ok {
		return false
	}
	t.lifetimeBytesAllocated.Add(n)
	return true
}

// fastAccount implements the small-allocation fast path: deduct from
// the context's already-reserved slop, topping it up via a single
// slow-path CAS against the tracker's shared counter (in
// preReserveSize-sized batches) whenever it runs dry. The subtraction
// always happens after any top-up, matching the original's
// fastDoSmallAccounting (ctx->preReservedUsage -= allocSize at the end,
// not before the top-up check). When a whole batch no longer fits under
// the tracker's max, the allocation is accounted exactly instead, the
// way the slow path does, and the context's slop is left untouched.
func (t *AllocTracker) fastAccount(ctx *AllocContext, allocSize uint64) bool {
	if allocSize > ctx.PreReservedBytes {
		if !t.slowAccount(t.preReserveSize) {
			return t.slowAccount(allocSize)
		}
		ctx.PreReservedBytes += t.preReserveSize
	}
	ctx.PreReservedBytes -= allocSize
	return true
}

// Alloc reserves accounting for, and links into ctx's local list, a new
// AllocUnit of the given payload size. It returns errs.ErrOutOfMemory
// (without having leaked any accounted bytes) if doing so would push
// current usage past the tracker's max.
func (t *AllocTracker) Alloc(ctx *AllocContext, size uint64) (*AllocUnit, error) {
	total := size + uint64(HeaderSize)

	var ok bool
	if size < t.preReserveSkip {
		ok = t.fastAccount(ctx, total)
	} else {
		ok = t.slowAccount(total)
	}
	if !ok {
		return nil, errs.ErrOutOfMemory
	}

	unit := newUnit(size)
	ctx.appendLocal(unit)
	return unit, nil
}

// lastOf walks a singly-linked chain (possibly nil) to find its tail.
func lastOf(u *AllocUnit) *AllocUnit {
	if u == nil {
		return nil
	}
	for {
		next := u.loadNext()
		if next == nil {
			return u
		}
		u = next
	}
}

// pushGlobal CAS-pushes u onto the global Treiber stack.
func (t *AllocTracker) pushGlobal(u *AllocUnit) {
	for {
		old := t.head.Load()
		u.storeNext(old)
		if t.head.CompareAndSwap(old, u) {
			return
		}
	}
}

// AddBlockToGlobalList lock-free pushes a surviving unit onto the
// global list — used during sweep to keep a block an owning context no
// longer needs to track individually.
func (t *AllocTracker) AddBlockToGlobalList(u *AllocUnit) {
	t.pushGlobal(u)
}

// Snapshot is a detached singly-linked chain of alloc units formed by
// TakeSnapshot. After it is taken, newly allocated units land only in
// contexts — none survive in the global list for the cycle that owns
// this snapshot.
type Snapshot struct {
	head *AllocUnit
}

// Empty reports whether the snapshot holds no units.
func (s *Snapshot) Empty() bool { return s.head == nil }

// Each calls fn once per unit in the snapshot, in list order.
func (s *Snapshot) Each(fn func(u *AllocUnit)) {
	for cur := s.head; cur != nil; {
		next := cur.loadNext()
		fn(cur)
		cur = next
	}
}

// TakeSnapshot concatenates every context's local list, then the global
// list (atomically swapped to nil), into one detached chain. Must be
// called only while mutators cannot be concurrently allocating (the
// STW window the GC cycle engine holds around the heap-snapshot phase).
func (t *AllocTracker) TakeSnapshot() *Snapshot {
	t.contextListLock.Lock()
	defer t.contextListLock.Unlock()

	var head, tail *AllocUnit
	appendChain := func(h, tl *AllocUnit) {
		if h == nil {
			return
		}
		if head == nil {
			head = h
		} else {
			tail.storeNext(h)
		}
		tail = tl
	}

	for e := t.contexts.Front(); e != nil; e = e.Next() {
		ctx := e.Value.(*AllocContext)
		h, tl := ctx.takeLocalList()
		appendChain(h, tl)
	}

	globalHead := t.head.Swap(nil)
	appendChain(globalHead, lastOf(globalHead))

	return &Snapshot{head: head}
}

// FilterSnapshotAndDelete consumes snap: every unit for which survives
// returns true is pushed back onto the global list; every other unit is
// dropped (left for the Go garbage collector to actually reclaim) and
// its size is subtracted from current usage. snap is empty after this
// call.
func (t *AllocTracker) FilterSnapshotAndDelete(snap *Snapshot, survives func(u *AllocUnit) bool) (freedBytes uint64) {
	for cur := snap.head; cur != nil; {
		next := cur.loadNext()
		if survives(cur) {
			t.AddBlockToGlobalList(cur)
		} else {
			freedBytes += cur.size + uint64(HeaderSize)
		}
		cur = next
	}
	t.currentUsage.Sub(freedBytes)
	snap.head = nil
	return freedBytes
}

// Statistics is the plain accounting snapshot GetStatistics returns.
type Statistics struct {
	MaxSize        uint64
	ReservedBytes  uint64
	CommittedBytes uint64
	UsedBytes      uint64
}

// GetStatistics returns a snapshot of the tracker's accounting counters.
// ReservedBytes/CommittedBytes mirror MaxSize exactly, matching the
// original implementation (which never distinguishes reserved vs
// committed address space for this collector's single-arena design).
func (t *AllocTracker) GetStatistics() Statistics {
	return Statistics{
		MaxSize:        t.maxSize,
		ReservedBytes:  t.maxSize,
		CommittedBytes: t.maxSize,
		UsedBytes:      t.currentUsage.Load(),
	}
}

// CurrentUsage returns the current accounted usage.
func (t *AllocTracker) CurrentUsage() uint64 { return t.currentUsage.Load() }

// MaxSize returns the configured usage ceiling.
func (t *AllocTracker) MaxSize() uint64 { return t.maxSize }

// LifetimeBytesAllocated returns the lifetime count of bytes reserved
// from the shared counter (batched for small allocations while a whole
// batch still fits, exact otherwise — see fastAccount).
func (t *AllocTracker) LifetimeBytesAllocated() uint64 { return t.lifetimeBytesAllocated.Load() }
