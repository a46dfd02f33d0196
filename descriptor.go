package zengc

import "github.com/alphadose/zengc/internal/tracker"

// ReferenceStrength distinguishes fields the collector must trace
// (StrongReference) from fields it leaves alone entirely
// (WeakReference) — a weak field is the host's responsibility, not a
// collector-managed weak-reference primitive.
type ReferenceStrength = tracker.ReferenceStrength

const (
	StrongReference = tracker.StrongReference
	WeakReference   = tracker.WeakReference
)

// Field describes one traceable slot inside an object's payload, by
// byte offset from the start of the payload (not the allocation
// header).
type Field = tracker.Field

// Descriptor is the caller-supplied shape of an object type: its total
// payload size and the strong/weak fields within it. The collector
// trusts a published descriptor completely — it performs no bounds or
// alignment validation against it, so a corrupt or mismatched
// descriptor is a caller bug, not something this package defends
// against.
type Descriptor = tracker.Descriptor

// PointerSize is the width of one traced reference slot on this
// platform, useful for host code laying out Descriptor.Fields offsets.
const PointerSize = tracker.PointerSize
