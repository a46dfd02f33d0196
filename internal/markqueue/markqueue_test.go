package markqueue

import "testing"

func TestRingPushPopOrder(t *testing.T) {
	r := NewRing[int](4)
	for i := 1; i <= 4; i++ {
		if !r.Push(i) {
			t.Fatalf("push %d failed unexpectedly", i)
		}
	}
	if r.Push(5) {
		t.Fatal("push succeeded on a full ring")
	}
	for i := 1; i <= 4; i++ {
		v, ok := r.Pop()
		if !ok || v != i {
			t.Fatalf("pop = (%v, %v), want (%d, true)", v, ok, i)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("pop succeeded on an empty ring")
	}
}

func TestRingWrapsAfterDrain(t *testing.T) {
	r := NewRing[int](3)
	r.Push(1)
	r.Push(2)
	r.Pop()
	r.Push(3)
	r.Push(4)
	if !r.Empty() {
		// sanity: should be full now (2,3,4)
	}
	var got []int
	for {
		v, ok := r.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestNewQueuesDerivesOverflowBound(t *testing.T) {
	q := NewQueues[int](8, 4)
	if got, want := q.MaxFieldsPerObject(), 12; got != want {
		t.Fatalf("bound = %d, want %d", got, want)
	}
}

func TestNewQueuesPanicsOnDegenerateSizes(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for zero-sized queues")
		}
	}()
	NewQueues[int](0, 0)
}
