package driver

import (
	"sync"
	"time"

	"github.com/alphadose/zengc/internal/window"
)

// allocRateSampler is the stat collector (spec component I): it samples
// the tracker's lifetime-bytes-allocated counter once per driver tick
// and turns the delta into a bytes-per-second instantaneous rate, which
// it folds into a moving-average window. The matching-rate trigger rule
// reads the average, not the instantaneous sample, so a single unusually
// large or small tick doesn't make the driver flap.
type allocRateSampler struct {
	mu sync.Mutex

	samples  *window.Window
	lastSeen uint64
	lastTime time.Time
}

func newAllocRateSampler(sampleCount int) *allocRateSampler {
	return &allocRateSampler{samples: window.New(sampleCount)}
}

// Sample records lifetimeBytes at now and returns the current moving
// average allocation rate in bytes/sec. The first call after
// construction has no prior sample to diff against and returns 0.
func (s *allocRateSampler) Sample(lifetimeBytes uint64, now time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastTime.IsZero() {
		s.lastTime = now
		s.lastSeen = lifetimeBytes
		return 0
	}

	elapsed := now.Sub(s.lastTime).Seconds()
	delta := lifetimeBytes - s.lastSeen
	s.lastTime = now
	s.lastSeen = lifetimeBytes

	if elapsed <= 0 {
		return s.samples.Average()
	}
	s.samples.Append(float64(delta) / elapsed)
	return s.samples.Average()
}
