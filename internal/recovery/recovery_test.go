package recovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func row(weights map[int32]float64, order ...int32) Row {
	r := Row{}
	for _, p := range order {
		r.Positions = append(r.Positions, p)
		r.Weights = append(r.Weights, weights[p])
	}
	return r
}

// TestRecovered_SingleStep divides retained mass by total mass.
func TestRecovered_SingleStep(t *testing.T) {
	s := Step{row(map[int32]float64{0: 0.5, 1: 0.1, 2: 0.1, 3: 0.3}, 0, 1, 2, 3)}

	require.InDelta(t, 0.8, Recovered([][]int32{{0, 3}}, []Step{s}), 1e-12)
	require.InDelta(t, 1.0, Recovered([][]int32{{0, 1, 2, 3}}, []Step{s}), 1e-12)
	require.InDelta(t, 0.0, Recovered([][]int32{{}}, []Step{s}), 1e-12)
}

// TestRecovered_AveragesLayersAndSteps averages per row fractions.
func TestRecovered_AveragesLayersAndSteps(t *testing.T) {
	steps := []Step{
		{
			row(map[int32]float64{0: 1, 1: 1}, 0, 1),
			row(map[int32]float64{0: 1, 1: 3}, 0, 1),
		},
		{
			row(map[int32]float64{0: 2, 1: 2}, 0, 1),
			row(map[int32]float64{0: 0, 1: 4}, 0, 1),
		},
	}

	// layer 0 keeps {0}: 0.5, 0.5; layer 1 keeps {1}: 0.75, 1.0
	got := Recovered([][]int32{{0}, {1}}, steps)
	require.InDelta(t, (0.5+0.5+0.75+1.0)/4, got, 1e-12)
}

// TestRecovered_Empty recovers everything without a trace or without mass.
func TestRecovered_Empty(t *testing.T) {
	require.Equal(t, 1.0, Recovered([][]int32{{0}}, nil))

	zero := Step{row(map[int32]float64{0: 0, 1: 0}, 0, 1)}
	require.Equal(t, 1.0, Recovered([][]int32{{0}}, []Step{zero}))
}

// TestRecovered_EvictedPositionsCountAsLost treats positions missing from the retained set as lost.
func TestRecovered_EvictedPositionsCountAsLost(t *testing.T) {
	s := Step{row(map[int32]float64{5: 0.25, 9: 0.75}, 5, 9)}

	require.InDelta(t, 0.75, Recovered([][]int32{{0, 1, 9}}, []Step{s}), 1e-12)
}

// TestWindow_KeepsLastSteps drops the oldest steps beyond the window size.
func TestWindow_KeepsLastSteps(t *testing.T) {
	w := NewWindow(2)
	for p := int32(0); p < 3; p++ {
		w.Push(Step{row(map[int32]float64{p: 1}, p), row(map[int32]float64{p: 2}, p)})
	}

	require.Equal(t, 2, w.Len())
	steps := w.Steps()
	require.Equal(t, []int32{1}, steps[0][0].Positions)
	require.Equal(t, []int32{2}, steps[1][0].Positions)

	require.Equal(t, []float64{2}, steps[1][1].Weights)
}
