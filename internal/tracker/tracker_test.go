package tracker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphadose/zengc/internal/errs"
)

func TestAllocAccountsUsage(t *testing.T) {
	tr := New(1<<20, 2<<20, 256<<10)
	ctx := tr.NewContext()

	u, err := tr.Alloc(ctx, 64)
	require.NoError(t, err)
	require.EqualValues(t, 64, u.Size())
	require.Greater(t, tr.CurrentUsage(), uint64(0))
}

func TestAllocFailsOverMaxSize(t *testing.T) {
	tr := New(1024, 2048, 256)
	ctx := tr.NewContext()

	// A single large (slow-path) allocation bigger than maxSize fails
	// outright and leaves usage untouched.
	_, err := tr.Alloc(ctx, 4096)
	require.ErrorIs(t, err, errs.ErrOutOfMemory)
	require.EqualValues(t, 0, tr.CurrentUsage())
}

func TestSnapshotConcatenatesContextsAndGlobalList(t *testing.T) {
	tr := New(1<<20, 2<<20, 256<<10)
	ctxA := tr.NewContext()
	ctxB := tr.NewContext()
	ctxSwept := tr.NewContext() // stands in for a context from a prior cycle

	a1, _ := tr.Alloc(ctxA, 8)
	a2, _ := tr.Alloc(ctxA, 8)
	b1, _ := tr.Alloc(ctxB, 8)

	// Simulate a unit that survived a previous sweep and now lives only
	// in the tracker's global list.
	g1, err := tr.Alloc(ctxSwept, 8)
	require.NoError(t, err)
	ctxSwept.takeLocalList()
	tr.AddBlockToGlobalList(g1)

	snap := tr.TakeSnapshot()
	require.False(t, snap.Empty())

	var seen []*AllocUnit
	snap.Each(func(u *AllocUnit) { seen = append(seen, u) })

	want := map[*AllocUnit]bool{a1: true, a2: true, b1: true, g1: true}
	require.Len(t, seen, len(want))
	for _, u := range seen {
		require.True(t, want[u])
	}
}

func TestFilterSnapshotAndDeleteSurvivorsReachGlobalList(t *testing.T) {
	tr := New(1<<20, 2<<20, 256<<10)
	ctx := tr.NewContext()

	keep, _ := tr.Alloc(ctx, 16)
	drop, _ := tr.Alloc(ctx, 16)

	snap := tr.TakeSnapshot()
	usageBefore := tr.CurrentUsage()

	freed := tr.FilterSnapshotAndDelete(snap, func(u *AllocUnit) bool {
		return u == keep
	})

	require.EqualValues(t, drop.Size()+uint64(HeaderSize), freed)
	require.EqualValues(t, usageBefore-freed, tr.CurrentUsage())
	require.True(t, snap.Empty())

	// keep should now be reachable from a fresh snapshot (it was pushed
	// onto the global list).
	snap2 := tr.TakeSnapshot()
	found := false
	snap2.Each(func(u *AllocUnit) {
		if u == keep {
			found = true
		}
	})
	require.True(t, found)
}

func TestConcurrentAllocDoesNotRaceAccounting(t *testing.T) {
	tr := New(64<<20, 2<<20, 256<<10)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := tr.NewContext()
			for j := 0; j < 100; j++ {
				_, err := tr.Alloc(ctx, 64)
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, tr.CurrentUsage(), tr.MaxSize())
}

func TestFieldSlotLoadStoreSwap(t *testing.T) {
	tr := New(1<<20, 2<<20, 256<<10)
	ctx := tr.NewContext()

	parent, _ := tr.Alloc(ctx, uint64(PointerSize))
	child, _ := tr.Alloc(ctx, 8)

	require.Nil(t, parent.LoadField(0))
	parent.StoreField(0, child)
	require.Equal(t, child, parent.LoadField(0))

	old := parent.SwapField(0, nil)
	require.Equal(t, child, old)
	require.Nil(t, parent.LoadField(0))
}
