package zengc

import "go.uber.org/zap"

// SetLogger installs the *zap.Logger every Generation constructed after
// this call (via NewGeneration) will use for its engine and driver. Passing nil
// resets it to a no-op logger. Safe to call at any time; it only affects
// generations created afterward.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	packageLogger = logger
}

var packageLogger = zap.NewNop()
