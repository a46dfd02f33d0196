package engine

import "github.com/alphadose/zengc/internal/tracker"

// OnAllocate stamps a freshly allocated unit with the polarity that
// currently means "marked". A unit born during concurrent marking is
// therefore already considered live for this cycle without ever being
// pushed through the mark queue — it cannot yet be reachable from
// anything the snapshot traced, so tracing it would be wasted work. A
// unit allocated after the heap snapshot is never visited by this
// cycle's sweep; the next cycle's polarity flip turns its stamp into
// "unmarked", so that cycle traces or sweeps it like any other unit.
func (e *Engine) OnAllocate(u *tracker.AllocUnit) {
	u.SetMark(e.markedPolarity.Load())
}

// needsRemark reports whether u has not yet been stamped with this
// cycle's marked polarity. Both the write barrier and the mark loop use
// this single check so the two agree on what "already handled" means.
func (e *Engine) needsRemark(u *tracker.AllocUnit) bool {
	return u.Mark() != e.markedPolarity.Load()
}

// WriteBarrier is the snapshot-at-the-beginning pre-write hook a mutator
// must call before overwriting a strong reference field, passing the
// value about to be clobbered. While marking is in progress, an
// about-to-be-overwritten child that has not yet been traced this cycle
// is handed to the mutator's local remark buffer instead of being
// silently dropped — otherwise a concurrent mutator could unlink the
// last path to an object between the moment the snapshot was taken and
// the moment the mark loop would have reached it, and it would be swept
// out from under a mutator that still held no other reference to it.
//
// Calling this outside a marking window is a correct no-op; mutators are
// not required to track phase state themselves.
func (e *Engine) WriteBarrier(m *Mutator, overwrittenChild *tracker.AllocUnit) {
	if overwrittenChild == nil || !e.markingInProgress.Load() {
		return
	}
	if !e.needsRemark(overwrittenChild) {
		return
	}
	m.Local.Add(overwrittenChild, e.remarkShared)
}

// ReadBarrier is the read-side hook: reading a reference field also
// stamps the object it names with the current cycle's marked polarity,
// on the theory that anything still reachable from a live mutator's
// working set at read time should not be reclaimed this cycle even if
// no write ever publishes the reference into the snapshot's reach. This
// mirrors the original implementation's on_read hook; it is a
// conservative stamp (it can only keep an object alive longer than
// strictly necessary, never reclaim one too early), but it means an
// object that is read and then dropped without ever being written
// anywhere can still survive a cycle purely from having been read once,
// which is broader than a minimal SATB barrier requires.
func (e *Engine) ReadBarrier(obj *tracker.AllocUnit) {
	if obj == nil || !e.markingInProgress.Load() {
		return
	}
	obj.SetMark(e.markedPolarity.Load())
}
