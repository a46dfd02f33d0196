package zengc

import "github.com/alphadose/zengc/internal/config"

// Config bundles every tuning knob a Generation exposes: queue
// capacities, driver trigger-rule parameters, and allocation
// pre-reservation sizing.
type Config = config.Config

// DefaultConfig returns the documented default tuning values.
func DefaultConfig() Config { return config.Default() }
