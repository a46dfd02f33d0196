package zengc

import "github.com/alphadose/zengc/internal/errs"

// Sentinel errors a Generation's and a Mutator's methods can return. Wrap/unwrap with
// errors.Is.
var (
	ErrOutOfMemory   = errs.ErrOutOfMemory
	ErrCycleTimedOut = errs.ErrCycleTimedOut
	ErrShutdown      = errs.ErrShutdown
)
