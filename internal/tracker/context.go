package tracker

import "container/list"

// AllocContext is the thread-affine scratch state described in spec §3:
// a singly-linked head/tail of units freshly allocated by one mutator,
// plus a pre-reserved-bytes counter that batches global-usage
// accounting. Only the owning mutator touches PreReservedBytes and
// appends to the local list; the tracker's snapshot path also reads and
// clears head/tail, but only while holding the tracker's context-list
// lock, which callers must ensure does not overlap with the owning
// mutator allocating (the same STW discipline the original
// implementation assumes around its heap snapshot phase).
type AllocContext struct {
	owner *AllocTracker
	elem  *list.Element

	head *AllocUnit
	tail *AllocUnit

	// PreReservedBytes is the batched slop this context has already
	// accounted against the tracker's currentUsage but not yet spent on
	// an actual allocation.
	PreReservedBytes uint64
}

func (c *AllocContext) appendLocal(u *AllocUnit) {
	if c.tail == nil {
		c.head = u
	} else {
		c.tail.storeNext(u)
	}
	c.tail = u
}

// takeLocalList detaches and returns the context's local list, leaving
// it empty. Called only by the tracker under the context-list lock
// during a snapshot.
func (c *AllocContext) takeLocalList() (head, tail *AllocUnit) {
	head, tail = c.head, c.tail
	c.head, c.tail = nil, nil
	return head, tail
}
