// Package tracker implements the lock-light, thread-local-reserved
// allocation accounting scheme and the atomic singly-linked object list
// described in spec component C: per-thread allocation contexts, a
// global Treiber-stack object list with O(1) concurrent pushes, and a
// single-swap snapshot operation the GC cycle engine consumes once per
// cycle.
package tracker

import (
	"sync/atomic"
	"unsafe"

	uatomic "go.uber.org/atomic"
)

// ReferenceStrength classifies a descriptor field. The mark loop traces
// only StrongReference fields and skips WeakReference fields entirely;
// trailing reference array slots are always traced.
type ReferenceStrength int

const (
	StrongReference ReferenceStrength = iota
	WeakReference
)

// Field describes one reference-typed slot in an object's payload.
type Field struct {
	ByteOffset uintptr
	Strength   ReferenceStrength
}

// Descriptor is the (trusted, immutable-once-published) layout
// description for an object: its size and the reference-typed fields
// the collector must trace. The public type-descriptor registry,
// reflective API, and descriptor loader are out of scope for this
// module — callers construct and publish Descriptors directly.
type Descriptor struct {
	ObjectSize uintptr
	Fields     []Field
	// HasTrailingReferenceArray marks a variable-length array of
	// reference slots immediately following the fixed fields, laid out
	// at ObjectSize, ObjectSize+ptrSize, ObjectSize+2*ptrSize, ...
	HasTrailingReferenceArray bool
	// Finalizer is carried on the descriptor per the data model but is
	// never invoked by this core: finalization belongs to the
	// out-of-scope object/API layer.
	Finalizer func(userData []byte)
}

// PointerSize is the width of a reference slot in an object's payload.
const PointerSize = unsafe.Sizeof(uintptr(0))

// HeaderSize is the fixed per-object overhead accounted against tracker
// usage alongside the payload size, mirroring `sizeof(struct
// alloc_unit)` in the original implementation.
const HeaderSize = unsafe.Sizeof(AllocUnit{})

// AllocUnit is the object header: the variable-length record backing
// every heap allocation. Its payload (Data) holds the user's object;
// reference-typed fields live inside Data at the byte offsets the
// object's Descriptor names, and are read/written with the raw pointer
// atomics below rather than through Go's type system, exactly as the
// original implementation treats them as an `_Atomic(struct
// alloc_unit*)*` embedded in the payload. Descriptors are trusted: no
// bounds or alignment check is performed against Data when resolving a
// field offset.
type AllocUnit struct {
	next uatomic.Pointer[AllocUnit]

	size uint64
	desc uatomic.Pointer[Descriptor]

	mark       uatomic.Bool
	generation any // owning generation; opaque to this package

	data []byte
}

// newUnit allocates a header for a payload of the given size. It does
// not perform any tracker accounting; callers go through
// AllocTracker.Alloc for that.
func newUnit(size uint64) *AllocUnit {
	return &AllocUnit{size: size, data: make([]byte, size)}
}

// Size returns the payload size in bytes (excluding the header).
func (u *AllocUnit) Size() uint64 { return u.size }

// Data returns the raw payload bytes.
func (u *AllocUnit) Data() []byte { return u.data }

// Descriptor atomically loads the published descriptor, or nil if the
// unit hasn't had one published yet (an allocation the mutator hasn't
// finished initializing — the collector treats it as reference-free).
func (u *AllocUnit) Descriptor() *Descriptor { return u.desc.Load() }

// PublishDescriptor atomically publishes the object's descriptor. Once
// published a descriptor is immutable; this must only be called once
// per unit.
func (u *AllocUnit) PublishDescriptor(d *Descriptor) { u.desc.Store(d) }

// Mark atomically loads the unit's mark bit.
func (u *AllocUnit) Mark() bool { return u.mark.Load() }

// SetMark atomically stores the unit's mark bit.
func (u *AllocUnit) SetMark(v bool) { u.mark.Store(v) }

// ExchangeMark atomically stores v and returns the previous value.
func (u *AllocUnit) ExchangeMark(v bool) bool { return u.mark.Swap(v) }

// CompareAndSwapMark atomically sets the mark bit to new if it is
// currently old.
func (u *AllocUnit) CompareAndSwapMark(old, new bool) bool {
	return u.mark.CompareAndSwap(old, new)
}

// Generation returns the opaque owning-generation back-pointer recorded
// at allocation time.
func (u *AllocUnit) Generation() any { return u.generation }

// SetGeneration records the opaque owning-generation back-pointer. The
// allocation path in this module does not call it, so Generation
// returns nil unless a caller has set it.
func (u *AllocUnit) SetGeneration(gen any) { u.generation = gen }

// fieldSlotAddr returns the address of the reference slot at the given
// byte offset into the payload, reinterpreted as a raw unsafe.Pointer
// cell so it can be touched with sync/atomic's pointer primitives — the
// same technique the teacher's lock-free list uses for its node
// pointers, applied here to a caller-described offset inside a raw byte
// buffer instead of a Go struct field.
func (u *AllocUnit) fieldSlotAddr(offset uintptr) *unsafe.Pointer {
	return (*unsafe.Pointer)(unsafe.Pointer(&u.data[offset]))
}

// LoadField atomically reads the reference slot at offset.
func (u *AllocUnit) LoadField(offset uintptr) *AllocUnit {
	p := atomic.LoadPointer(u.fieldSlotAddr(offset))
	return (*AllocUnit)(p)
}

// SwapField atomically stores newVal into the reference slot at offset
// and returns the previous value — used by the write barrier, which
// needs the old value to decide whether to remark it.
func (u *AllocUnit) SwapField(offset uintptr, newVal *AllocUnit) *AllocUnit {
	old := atomic.SwapPointer(u.fieldSlotAddr(offset), unsafe.Pointer(newVal))
	return (*AllocUnit)(old)
}

// StoreField atomically stores newVal into the reference slot at offset
// without reporting the previous value (used for initial, pre-publish
// field writes where there is no barrier to run yet).
func (u *AllocUnit) StoreField(offset uintptr, newVal *AllocUnit) {
	atomic.StorePointer(u.fieldSlotAddr(offset), unsafe.Pointer(newVal))
}

// next/global list linkage. A unit is reachable from exactly one of: its
// owning context's local list, the tracker's global list, or an open
// snapshot (the disjointness invariant, spec §3) — so a single next
// pointer per unit, reused across whichever list currently holds it, is
// sufficient; there is never a need for a unit to be a member of two
// lists at once.

func (u *AllocUnit) loadNext() *AllocUnit  { return u.next.Load() }
func (u *AllocUnit) storeNext(v *AllocUnit) { u.next.Store(v) }
