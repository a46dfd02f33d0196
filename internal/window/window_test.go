package window

import "testing"

func TestAppendAndAverage(t *testing.T) {
	w := New(3)
	if w.Len() != 0 {
		t.Fatalf("expected empty window, got len %d", w.Len())
	}
	w.Append(1)
	w.Append(2)
	w.Append(3)
	if got, want := w.Average(), 2.0; got != want {
		t.Fatalf("average = %v, want %v", got, want)
	}
	if w.Len() != 3 {
		t.Fatalf("len = %d, want 3", w.Len())
	}
}

func TestAppendOverwritesOldest(t *testing.T) {
	w := New(2)
	w.Append(10)
	w.Append(20)
	w.Append(30) // overwrites the 10

	seen := map[float64]bool{}
	w.Iterate(func(s float64) { seen[s] = true })

	if len(seen) != 2 || !seen[20] || !seen[30] {
		t.Fatalf("unexpected sample set: %v", seen)
	}
	if w.Len() != 2 {
		t.Fatalf("len = %d, want 2", w.Len())
	}
}

func TestEmptyAverageIsZero(t *testing.T) {
	w := New(4)
	if got := w.Average(); got != 0 {
		t.Fatalf("average of empty window = %v, want 0", got)
	}
}

func TestNewPanicsOnNonPositiveCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for zero capacity")
		}
	}()
	New(0)
}
