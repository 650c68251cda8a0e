package forest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/streamvit/pkg/forest"
)

// twoStep builds
//
//	t0: a0, a1
//	t1: b0 -> a0, b1 -> a0
//
// and compacts it at t1.
func twoStep(t *testing.T) (f *forest.Forest, a0, a1, b0, b1 forest.Handle) {
	t.Helper()

	f = forest.New()
	a0 = f.Add(0, 0, forest.Nil)
	a1 = f.Add(1, 0, forest.Nil)
	b0 = f.Add(0, 1, a0)
	b1 = f.Add(1, 1, a0)

	require.Equal(t, 2, f.Get(a0).Children)

	f.Compact(1)
	require.Equal(t, 1, f.Collect(1))

	return f, a0, a1, b0, b1
}

func TestForest_AddCountsChildren(t *testing.T) {
	t.Parallel()

	f := forest.New()
	root := f.Add(2, 0, forest.Nil)
	child := f.Add(1, 1, root)

	assert.Equal(t, 2, f.Len())
	assert.Equal(t, 1, f.Get(root).Children)
	assert.Equal(t, root, f.Get(child).Parent)
	assert.Equal(t, child, f.Newest())
	assert.Equal(t, root, f.Oldest())
	assert.True(t, forest.Nil.IsNil())
	assert.Equal(t, "nil", forest.Nil.String())
}

func TestForest_DeadLeafIsCollected(t *testing.T) {
	t.Parallel()

	f, a0, a1, b0, b1 := twoStep(t)

	assert.Equal(t, 3, f.Len())
	assert.False(t, f.Alive(a1))
	assert.True(t, f.Alive(a0))
	assert.Equal(t, a0, f.Top(b0))
	assert.Equal(t, a0, f.Top(b1))

	branch, ok := f.OldestBranch(b1)
	require.True(t, ok)
	assert.Equal(t, a0, branch)
}

func TestForest_CompactSplicesUnaryChain(t *testing.T) {
	t.Parallel()

	f, a0, _, b0, b1 := twoStep(t)

	c0 := f.Add(0, 2, b0)
	c1 := f.Add(1, 2, b0)

	f.Compact(2)

	// b1 died, so a0 lost a child and b0 was spliced past it.
	assert.True(t, f.Get(b0).Parent.IsNil())
	assert.Equal(t, 2, f.Get(b0).Children)
	assert.Zero(t, f.Get(a0).Children)

	assert.Equal(t, 2, f.Collect(2))
	assert.Equal(t, 3, f.Len())
	assert.False(t, f.Alive(a0))
	assert.False(t, f.Alive(b1))

	assert.Equal(t, b0, f.Top(c0))

	branch, ok := f.OldestBranch(c1)
	require.True(t, ok)
	assert.Equal(t, b0, branch)
}

func TestForest_LongChainCollapses(t *testing.T) {
	t.Parallel()

	f := forest.New()
	leaf := f.Add(0, 0, forest.Nil)

	for time := 1; time <= 100; time++ {
		leaf = f.Add(0, time, leaf)
		f.Compact(time)
		f.Collect(time)

		require.LessOrEqual(t, f.Len(), 2, "time %d", time)
	}

	_, ok := f.OldestBranch(leaf)
	assert.False(t, ok)
}

func TestForest_StaleHandles(t *testing.T) {
	t.Parallel()

	f, _, a1, _, _ := twoStep(t)

	_, ok := f.Lookup(a1)
	assert.False(t, ok)

	reused := f.Add(3, 2, forest.Nil)
	assert.NotEqual(t, a1, reused)
	assert.False(t, f.Alive(a1))
	assert.True(t, f.Alive(reused))
	assert.Equal(t, 4, f.Capacity())

	assert.PanicsWithValue(t, "forest: stale handle "+a1.String(), func() {
		f.Get(a1)
	})
	assert.Panics(t, func() { f.Get(forest.Nil) })
}

func TestForest_WalkNewestFirst(t *testing.T) {
	t.Parallel()

	f, a0, _, b0, b1 := twoStep(t)

	var seen []forest.Handle

	f.Walk(func(h forest.Handle, _ *forest.Node) bool {
		seen = append(seen, h)

		return true
	})

	assert.Equal(t, []forest.Handle{b1, b0, a0}, seen)

	seen = seen[:0]

	f.Walk(func(h forest.Handle, _ *forest.Node) bool {
		seen = append(seen, h)

		return false
	})

	assert.Equal(t, []forest.Handle{b1}, seen)
}

func TestForest_Reset(t *testing.T) {
	t.Parallel()

	f, a0, _, b0, _ := twoStep(t)

	f.Reset()

	assert.Zero(t, f.Len())
	assert.False(t, f.Alive(a0))
	assert.False(t, f.Alive(b0))
	assert.True(t, f.Newest().IsNil())

	h := f.Add(0, 0, forest.Nil)
	assert.True(t, f.Alive(h))
	assert.Equal(t, 1, f.Len())
}

func TestForest_ExportImport(t *testing.T) {
	t.Parallel()

	f, _, a1, b0, b1 := twoStep(t)

	records, refs := f.Export(b0, b1, a1, forest.Nil)
	require.Len(t, records, 3)
	assert.Equal(t, []int{2, 3, 0, 0}, refs)
	assert.Equal(t, forest.Record{State: 0, Time: 0, Children: 2}, records[0])
	assert.Equal(t, forest.Record{State: 1, Time: 1, Parent: 1}, records[2])

	g := forest.New()
	handles, err := g.Import(records)
	require.NoError(t, err)
	require.Len(t, handles, 3)

	assert.Equal(t, 2, g.Get(handles[0]).Children)
	assert.Equal(t, handles[0], g.Get(handles[2]).Parent)

	branch, ok := g.OldestBranch(handles[1])
	require.True(t, ok)
	assert.Equal(t, handles[0], branch)
}

func TestForest_ImportRejectsCorruptRecords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		records []forest.Record
	}{
		{
			name:    "forward_parent",
			records: []forest.Record{{Time: 0, Parent: 2}, {Time: 1}},
		},
		{
			name:    "parent_not_older",
			records: []forest.Record{{Time: 1, Children: 1}, {Time: 1, Parent: 1}},
		},
		{
			name:    "wrong_child_count",
			records: []forest.Record{{Time: 0, Children: 2}, {Time: 1, Parent: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := forest.New()
			_, err := f.Import(tt.records)
			require.ErrorIs(t, err, forest.ErrCorrupt)
			assert.Zero(t, f.Len())
		})
	}
}
