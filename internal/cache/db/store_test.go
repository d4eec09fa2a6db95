package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newFilledStore(t *testing.T, budgets []int, headroom int, n int32) *Store {
	t.Helper()
	s := NewStore(budgets, headroom, 2)
	for l := 0; l < s.NumLayers(); l++ {
		for p := int32(0); p < n; p++ {
			require.NoError(t, s.Append(l, entry(p)))
		}
	}
	return s
}

// TestStore_Counters aggregates layer counters.
func TestStore_Counters(t *testing.T) {
	s := newFilledStore(t, []int{4, 6}, 2, 4)

	require.Equal(t, 2, s.NumLayers())
	require.Equal(t, int64(8), s.Len())
	require.Equal(t, int64(8*32), s.Mem())
	require.Equal(t, int64(10), s.Budget())
	require.Equal(t, 2, s.Room())
	require.False(t, s.OverBudget())

	require.NoError(t, s.Append(0, entry(4)))
	require.True(t, s.OverBudget())
	require.Equal(t, 1, s.Room())
}

// TestStore_Truncate rewinds every layer.
func TestStore_Truncate(t *testing.T) {
	s := newFilledStore(t, []int{8, 8}, 0, 6)

	_, evicted := s.Truncate(3)
	require.Equal(t, int64(6), evicted)
	for l := 0; l < 2; l++ {
		require.Equal(t, []int32{0, 1, 2}, s.Layer(l).Positions())
	}
}

// TestStore_View snapshots positions and survives compaction.
func TestStore_View(t *testing.T) {
	s := newFilledStore(t, []int{8}, 0, 4)
	s.Evict(0, []int32{1})

	v := s.View()
	require.Equal(t, 1, v.NumLayers())
	require.Equal(t, []int32{0, 2, 3}, v.Positions(0))
	require.Equal(t, []float64{2, 1}, v.Keys(0)[1])
	require.Equal(t, []float64{1, 3}, v.Values(0)[2])

	s.Compact()
	s.Evict(0, []int32{0})
	require.Equal(t, []int32{0, 2, 3}, v.Positions(0), "view is a snapshot")
}

// TestStore_EvictUntilWithinBudget applies the hard limit per layer.
func TestStore_EvictUntilWithinBudget(t *testing.T) {
	s := newFilledStore(t, []int{4, 4}, 4, 8)

	_, evicted := s.EvictUntilWithinBudget(1)
	require.Equal(t, int64(8), evicted)
	require.Equal(t, []int32{0, 5, 6, 7}, s.Layer(1).Positions())
}

// TestStore_WalkLayers_Clear visits layers and wipes them.
func TestStore_WalkLayers_Clear(t *testing.T) {
	s := newFilledStore(t, []int{4, 4, 4}, 0, 2)

	var ids []int
	s.WalkLayers(context.Background(), func(l *Layer) { ids = append(ids, l.ID()) })
	require.Equal(t, []int{0, 1, 2}, ids)

	_, items := s.Clear()
	require.Equal(t, int64(6), items)
	require.Zero(t, s.Len())
}
