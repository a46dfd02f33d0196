// Package gclock implements the multi-reader/single-writer coordination
// primitive mutators and the GC thread use to delimit the two short
// stop-the-world windows of a cycle (polarity flip with root and heap
// snapshot, then residual remark drain with sweep).
//
// Mutators take the lock in shared mode ("block GC") for the duration of
// any heap-reference mutation; the GC thread takes it in exclusive mode
// only for the two STW windows. Writer intent bars new shared holders from
// fast-pathing in, which is what keeps the GC thread from starving under a
// steady stream of mutator traffic.
package gclock

import "sync"

// Token is a per-mutator handle tracking reentrant Block/Unblock calls.
// Callers keep one Token per mutator thread and pass the same Token on
// every Block/Unblock pair for that thread.
type Token struct {
	depth int
}

// Lock is the GC/mutator coordination primitive described above. The zero
// value is not usable; construct with New.
type Lock struct {
	mu              sync.Mutex
	cond            *sync.Cond
	blockers        int
	exclusiveWanted bool
	exclusive       bool
}

// New returns a ready-to-use Lock.
func New() *Lock {
	l := &Lock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Block declares that the calling mutator is about to touch heap
// references. It returns immediately unless the GC thread currently holds
// or wants exclusive access, in which case it blocks until exclusive mode
// is released. Reentrant: nested Block calls by the same mutator (same
// Token) only increment a local counter.
func (l *Lock) Block(tok *Token) {
	if tok.depth > 0 {
		tok.depth++
		return
	}

	l.mu.Lock()
	for l.exclusiveWanted || l.exclusive {
		l.cond.Wait()
	}
	l.blockers++
	tok.depth = 1
	l.mu.Unlock()
}

// Unblock releases a Block call. It wakes the GC thread if this was the
// last active blocker and exclusive mode is being awaited.
func (l *Lock) Unblock(tok *Token) {
	if tok.depth == 0 {
		panic("gclock: Unblock without matching Block")
	}
	if tok.depth > 1 {
		tok.depth--
		return
	}

	l.mu.Lock()
	tok.depth = 0
	l.blockers--
	if l.blockers == 0 {
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

// EnterExclusive is called by the GC thread. It sets writer intent
// (parking any new Block calls), waits for the currently active blockers
// to drain, then marks the lock exclusive.
func (l *Lock) EnterExclusive() {
	l.mu.Lock()
	l.exclusiveWanted = true
	for l.blockers > 0 {
		l.cond.Wait()
	}
	l.exclusiveWanted = false
	l.exclusive = true
	l.mu.Unlock()
}

// ExitExclusive releases exclusive mode and wakes any mutators parked in
// Block.
func (l *Lock) ExitExclusive() {
	l.mu.Lock()
	l.exclusive = false
	l.cond.Broadcast()
	l.mu.Unlock()
}

// BlockerCount reports the number of mutators currently holding shared
// access. For diagnostics/tests only.
func (l *Lock) BlockerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockers
}
