package engine

import (
	"container/list"
	"sync"

	"github.com/alphadose/zengc/internal/gclock"
	"github.com/alphadose/zengc/internal/remark"
	"github.com/alphadose/zengc/internal/tracker"
)

// Mutator is the per-thread state a host attaches to a generation: a
// GC-lock reentrancy token, an allocation context, a local remark
// buffer, and the root references this thread holds. Every blocking
// GC-lock call and every allocation is issued through an explicit
// *Mutator handle rather than thread-local storage, matching spec §6's
// block(state, thread_token)/unblock(state, thread_token) signature.
type Mutator struct {
	Token gclock.Token
	Ctx   *tracker.AllocContext
	Local *remark.LocalBuffer[*tracker.AllocUnit]

	rootsMu sync.Mutex
	roots   *list.List // of *tracker.AllocUnit
}

func newMutator(ctx *tracker.AllocContext, localCapacity int) *Mutator {
	return &Mutator{
		Ctx:   ctx,
		Local: remark.NewLocalBuffer[*tracker.AllocUnit](localCapacity),
		roots: list.New(),
	}
}

// RootHandle identifies one root reference held by a Mutator, returned
// by AddRoot/DupRoot so the caller can later remove or duplicate it in
// O(1).
type RootHandle struct {
	elem *list.Element
}

// AddRoot registers obj as a root this mutator anchors.
func (m *Mutator) AddRoot(obj *tracker.AllocUnit) RootHandle {
	m.rootsMu.Lock()
	defer m.rootsMu.Unlock()
	return RootHandle{elem: m.roots.PushBack(obj)}
}

// DupRoot duplicates an existing root handle, mirroring the original
// implementation's heap_root_dup: the same object gains a second,
// independently removable root entry, so two callers can each hold (and
// later drop) their own handle without the object losing its root
// status until both are gone.
func (m *Mutator) DupRoot(h RootHandle) RootHandle {
	m.rootsMu.Lock()
	defer m.rootsMu.Unlock()
	obj := h.elem.Value.(*tracker.AllocUnit)
	return RootHandle{elem: m.roots.PushBack(obj)}
}

// RemoveRoot drops a root handle.
func (m *Mutator) RemoveRoot(h RootHandle) {
	m.rootsMu.Lock()
	defer m.rootsMu.Unlock()
	m.roots.Remove(h.elem)
}

// RootCount reports how many root entries this mutator currently holds.
func (m *Mutator) RootCount() int {
	m.rootsMu.Lock()
	defer m.rootsMu.Unlock()
	return m.roots.Len()
}

// eachRoot calls fn once per root object this mutator holds. Called by
// the engine only during the STW root-snapshot window, where no
// concurrent AddRoot/RemoveRoot can be racing (mutators cannot be
// issuing new root operations while GC holds exclusive access, since
// doing so — like any heap mutation — requires having gone through
// Block first).
func (m *Mutator) eachRoot(fn func(obj *tracker.AllocUnit)) {
	m.rootsMu.Lock()
	defer m.rootsMu.Unlock()
	for e := m.roots.Front(); e != nil; e = e.Next() {
		fn(e.Value.(*tracker.AllocUnit))
	}
}
