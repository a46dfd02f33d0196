package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alphadose/zengc/internal/errs"
)

func TestStartCycleAsyncCoalescesConcurrentRequests(t *testing.T) {
	e := newTestEngine(t)
	m := e.RegisterMutator()
	_, err := e.Tracker().Alloc(m.Ctx, 8)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	done := make(chan uint64, 2)
	go func() { done <- e.StartCycleAsync() }()
	go func() { done <- e.StartCycleAsync() }()
	first := <-done
	second := <-done
	require.Equal(t, first, second)

	require.NoError(t, e.WaitCycle(first, time.Now().Add(2*time.Second)))
	require.EqualValues(t, 1, e.GetStats().CyclesCompletedCount)
}

func TestStartCycleBlocksUntilCompletion(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.StartCycle()
	require.EqualValues(t, 1, e.GetStats().CyclesCompletedCount)
}

func TestShutdownStopsRunLoop(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()

	e.Shutdown()

	select {
	case err := <-runErr:
		require.ErrorIs(t, err, errs.ErrShutdown)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestRunReturnsOnContextCancellation(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()

	cancel()

	select {
	case err := <-runErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRegisterAndUnregisterMutator(t *testing.T) {
	e := newTestEngine(t)
	m := e.RegisterMutator()
	require.Equal(t, 0, m.RootCount())

	e.eachMutator(func(got *Mutator) {
		require.Equal(t, m, got)
	})

	e.UnregisterMutator(m)

	count := 0
	e.eachMutator(func(*Mutator) { count++ })
	require.Zero(t, count)
}
