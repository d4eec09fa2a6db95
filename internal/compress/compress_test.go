package compress

import (
	"testing"

	"github.com/Borislavv/go-ash-speculate/config"
	"github.com/Borislavv/go-ash-speculate/internal/recovery"
	"github.com/stretchr/testify/require"
)

func positions(n int32) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(i)
	}
	return out
}

// TestNew maps strategies to compressors.
func TestNew(t *testing.T) {
	require.Nil(t, New(config.PromptCompressionNone))
	require.Equal(t, config.PromptCompressionRecentGlobal, New(config.PromptCompressionRecentGlobal).Name())
	require.Equal(t, config.PromptCompressionSnapKV, New(config.PromptCompressionSnapKV).Name())
	require.Equal(t, config.PromptCompressionL2, New(config.PromptCompressionL2).Name())
}

// TestRecentGlobal keeps anchors and fills the budget with the tail.
func TestRecentGlobal(t *testing.T) {
	in := Layer{Positions: positions(20), Budget: 8, Anchors: 2}
	require.Equal(t, []int32{0, 1, 14, 15, 16, 17, 18, 19}, RecentGlobal{}.Keep(in))

	in.Budget = 32
	require.Len(t, RecentGlobal{}.Keep(in), 20)
}

// TestPool averages over a clipped window.
func TestPool(t *testing.T) {
	got := pool([]float64{5, 0, 0, 0, 0, 0, 10}, 5)
	require.InDelta(t, 5.0/3, got[0], 1e-12)
	require.InDelta(t, 5.0/4, got[1], 1e-12)
	require.InDelta(t, 1.0, got[2], 1e-12)
	require.InDelta(t, 0.0, got[3], 1e-12)
	require.InDelta(t, 10.0/3, got[6], 1e-12)
}

// TestSnapKV keeps the observation window, anchors and the most attended region.
func TestSnapKV(t *testing.T) {
	n := int32(40)
	var rows []recovery.Row
	for r := int32(n - 4); r < n; r++ {
		row := recovery.Row{Positions: positions(r + 1), Weights: make([]float64, r+1)}
		row.Weights[10] = 0.6
		row.Weights[r] = 0.4
		rows = append(rows, row)
	}
	in := Layer{Positions: positions(n), Observed: rows, Budget: 8, Anchors: 1}

	keep := SnapKV{Window: 4, Kernel: 3}.Keep(in)

	require.Len(t, keep, 8)
	require.Contains(t, keep, int32(0))
	for _, p := range []int32{36, 37, 38, 39} {
		require.Contains(t, keep, p)
	}
	// position 10 votes 0.6 and pools onto its neighbours
	require.Equal(t, []int32{0, 9, 10, 11, 36, 37, 38, 39}, keep)
}

// TestL2 keeps the smallest key norms next to anchors and the recent tail.
func TestL2(t *testing.T) {
	n := int32(12)
	keys := make([][]float64, n)
	for i := range keys {
		keys[i] = []float64{3, 4} // norm 5
	}
	keys[4] = []float64{0, 1}
	keys[6] = []float64{1, 1}
	in := Layer{Positions: positions(n), Keys: keys, Budget: 6, Anchors: 2, Recent: 2}

	require.Equal(t, []int32{0, 1, 4, 6, 10, 11}, L2{}.Keep(in))
}
