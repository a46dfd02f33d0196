package zengc

import (
	"github.com/alphadose/zengc/internal/engine"
	"github.com/alphadose/zengc/internal/tracker"
)

// GCStats is a snapshot of a generation's lifetime GC counters.
type GCStats = engine.Stats

// GetStats returns a snapshot of g's lifetime GC counters.
func (g *Generation) GetStats() GCStats { return g.engine.GetStats() }

// AllocStats is a snapshot of a generation's accounting counters.
type AllocStats = tracker.Statistics

// GetAllocStats returns a snapshot of g's current accounting counters.
func (g *Generation) GetAllocStats() AllocStats { return g.engine.Tracker().GetStatistics() }
