// Package errs defines the sentinel and typed errors shared across the
// collector's packages, per the error-handling design: allocation
// failure is recoverable (the heap façade retries with an on-demand
// cycle before surfacing it), a wait timeout is its own typed result,
// and everything else — a deferred-mark-queue overflow, a snapshot
// tail mismatch, a context-list inconsistency — is a fatal invariant
// violation: these indicate a bug or an adversarially large live set,
// not a condition to recover from.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrOutOfMemory is returned by the allocation tracker when an
// allocation would push current usage past the configured maximum.
var ErrOutOfMemory = errors.New("zengc: out of memory")

// ErrCycleTimedOut is returned by WaitCycle when its deadline elapses
// before the requested cycle completes.
var ErrCycleTimedOut = errors.New("zengc: wait for GC cycle timed out")

// ErrShutdown is a benign sentinel propagated through the GC thread's
// request queue on shutdown; it is not a failure.
var ErrShutdown = errors.New("zengc: shutdown requested")

// InvariantViolation represents a fatal internal consistency failure.
// Code that detects one should panic with it rather than attempt to
// recover — per the design, these indicate a bug or a live set that
// violates a documented construction-time bound, not something a
// retry can fix.
type InvariantViolation struct {
	What string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("zengc: invariant violation: %s", e.What)
}

// Fatalf panics with an *InvariantViolation built from the given
// message, matching the original implementation's "abort with a
// diagnostic" policy for invariant violations.
func Fatalf(format string, args ...any) {
	panic(&InvariantViolation{What: fmt.Sprintf(format, args...)})
}
