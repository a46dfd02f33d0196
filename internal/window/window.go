// Package window implements a fixed-capacity circular buffer of numeric
// samples with a running-average iterator.
//
// It backs the cycle-time and allocation-rate sample sets used by the GC
// driver's matching-rate rule. Not thread-safe: callers serialize access
// themselves (the driver and engine each own one instance and touch it
// only from their respective goroutine, except where a lock already
// guards the call site).
package window

// Window is a fixed-capacity ring of float64 samples. Appending past
// capacity overwrites the oldest sample.
type Window struct {
	samples  []float64
	capacity int
	next     int
	count    int
}

// New returns a Window with room for capacity samples. Capacity must be
// positive.
func New(capacity int) *Window {
	if capacity <= 0 {
		panic("window: capacity must be positive")
	}
	return &Window{
		samples:  make([]float64, capacity),
		capacity: capacity,
	}
}

// Append records a sample, overwriting the oldest one once the window is
// full.
func (w *Window) Append(sample float64) {
	w.samples[w.next] = sample
	w.next = (w.next + 1) % w.capacity
	if w.count < w.capacity {
		w.count++
	}
}

// Len reports how many valid samples the window currently holds (at most
// its capacity).
func (w *Window) Len() int {
	return w.count
}

// Iterate calls fn once per valid sample, in no particular order.
func (w *Window) Iterate(fn func(sample float64)) {
	for i := 0; i < w.count; i++ {
		fn(w.samples[i])
	}
}

// Average returns the arithmetic mean of the valid samples, or 0 if the
// window is empty.
func (w *Window) Average() float64 {
	if w.count == 0 {
		return 0
	}
	var total float64
	w.Iterate(func(sample float64) { total += sample })
	return total / float64(w.count)
}

// Sum returns the sum of the valid samples.
func (w *Window) Sum() float64 {
	var total float64
	w.Iterate(func(sample float64) { total += sample })
	return total
}
