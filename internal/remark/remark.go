// Package remark implements the mutator-side write-barrier's remark
// plumbing: a small fixed-length local buffer per mutator, and a shared
// ring buffer ("need_remark_queue") that a full local buffer flushes
// into in one shot.
//
// The shared ring is adapted directly from the teacher's ZenQ ring
// buffer (github.com/alphadose/zenq): each slot carries an explicit
// Empty/Busy/Committed state, writers claim a slot via an atomically
// advanced index and a CAS on that slot's state, and a parked writer is
// woken by the same semaphore-backed ThreadParker the teacher uses. The
// payload type changes from a single queued value to a flushed chunk of
// pointers (a snapshot of a mutator's local buffer), and Read drains
// whatever chunks are queued without blocking — the GC reconciliation
// phase wants "give me everything available right now", not "wait for
// one more item".
package remark

import (
	"runtime"

	"go.uber.org/atomic"
)

// Slot states, named exactly as in the teacher ring buffer.
const (
	slotEmpty uint32 = iota
	slotBusy
	slotCommitted
)

// threadParker sleeps writers that land on a slot the reader hasn't
// drained yet. Ported from zenq.ThreadParker: a semaphore count guarded
// by a mutex, woken with a CAS loop so concurrent Ready callers don't
// double-wake the same sleeper.
type threadParker struct {
	semaCount atomic.Int64
	mu        chan struct{} // 1-buffered channel used as a non-reentrant mutex
}

func newThreadParker() *threadParker {
	tp := &threadParker{mu: make(chan struct{}, 1)}
	tp.mu <- struct{}{}
	return tp
}

func (tp *threadParker) park() {
	<-tp.mu
	tp.semaCount.Add(1)
}

func (tp *threadParker) ready() {
	for {
		ctr := tp.semaCount.Load()
		if ctr <= 0 {
			return
		}
		if tp.semaCount.CompareAndSwap(ctr, ctr-1) {
			tp.mu <- struct{}{}
			return
		}
	}
}

type slot[T any] struct {
	state  atomic.Uint32
	parker *threadParker
	item   T
}

// SharedQueue is a fixed-capacity, power-of-two-sized ring buffer of
// flushed chunks, safe for many concurrent writers and one reader.
type SharedQueue[T any] struct {
	writerIndex atomic.Uint64
	readerIndex atomic.Uint64
	indexMask   uint64
	contents    []slot[T]
}

// NewSharedQueue returns a queue that holds up to capacity chunks.
// capacity is rounded up to the next power of two, matching the
// teacher's indexing-by-mask trick.
func NewSharedQueue[T any](capacity int) *SharedQueue[T] {
	if capacity <= 0 {
		panic("remark: capacity must be positive")
	}
	size := nextPowerOfTwo(uint64(capacity))
	q := &SharedQueue[T]{
		indexMask: size - 1,
		contents:  make([]slot[T], size),
	}
	for i := range q.contents {
		q.contents[i].parker = newThreadParker()
	}
	return q
}

func nextPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Write publishes a flushed chunk. Called by mutators; safe for
// concurrent use by many simultaneous writers.
func (q *SharedQueue[T]) Write(chunk T) {
	idx := (q.writerIndex.Add(1) - 1) & q.indexMask
	s := &q.contents[idx]

	for !s.state.CompareAndSwap(slotEmpty, slotBusy) {
		s.parker.park()
	}
	s.item = chunk
	s.state.Store(slotCommitted)
}

// TryRead drains one committed chunk if one is available, without
// blocking. Called only by the GC goroutine during reconciliation.
func (q *SharedQueue[T]) TryRead() (chunk T, ok bool) {
	idx := q.readerIndex.Load()
	slotIdx := idx & q.indexMask
	s := &q.contents[slotIdx]

	if !s.state.CompareAndSwap(slotCommitted, slotBusy) {
		var zero T
		return zero, false
	}
	chunk = s.item
	var zero T
	s.item = zero
	q.readerIndex.Add(1)
	s.state.Store(slotEmpty)
	s.parker.ready()
	return chunk, true
}

// DrainAll calls fn once per currently-committed chunk, in FIFO order,
// stopping at the first slot that isn't committed yet (the shared queue
// is never "finished", only momentarily empty).
func (q *SharedQueue[T]) DrainAll(fn func(chunk T)) {
	for {
		chunk, ok := q.TryRead()
		if !ok {
			return
		}
		fn(chunk)
		runtime.Gosched()
	}
}

// LocalBuffer is a per-mutator fixed-length batch. Writes append locally;
// once full, the whole buffer is flushed to a SharedQueue in one call and
// the local count resets, amortizing the cost of the shared ring over
// Capacity writes.
type LocalBuffer[T any] struct {
	items []T
	used  int
}

// NewLocalBuffer returns a LocalBuffer with the given fixed capacity.
func NewLocalBuffer[T any](capacity int) *LocalBuffer[T] {
	if capacity <= 0 {
		panic("remark: capacity must be positive")
	}
	return &LocalBuffer[T]{items: make([]T, capacity)}
}

// Add appends v to the local buffer, flushing to shared if the buffer is
// now full. Not safe for concurrent use — each mutator owns exactly one
// LocalBuffer.
func (b *LocalBuffer[T]) Add(v T, shared *SharedQueue[[]T]) {
	b.items[b.used] = v
	b.used++
	if b.used == len(b.items) {
		b.Flush(shared)
	}
}

// Flush pushes whatever is currently buffered (which may be less than a
// full Capacity, e.g. during reconciliation's residual drain) to shared
// and resets the local count.
func (b *LocalBuffer[T]) Flush(shared *SharedQueue[[]T]) {
	if b.used == 0 {
		return
	}
	chunk := make([]T, b.used)
	copy(chunk, b.items[:b.used])
	shared.Write(chunk)
	b.used = 0
}

// Residual returns the buffer's currently unflushed contents without
// clearing them — used when a mutator must be inspected (not flushed via
// the normal path) during the GC-exclusive residual-drain window.
func (b *LocalBuffer[T]) Residual() []T {
	return b.items[:b.used]
}

// Reset clears the local buffer's count after its residual contents have
// been consumed directly (bypassing Flush/the shared queue).
func (b *LocalBuffer[T]) Reset() {
	b.used = 0
}

// Len reports how many items are currently buffered locally.
func (b *LocalBuffer[T]) Len() int { return b.used }

// Capacity reports the local buffer's fixed capacity.
func (b *LocalBuffer[T]) Capacity() int { return len(b.items) }
