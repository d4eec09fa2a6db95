package policy

import (
	"testing"

	"github.com/Borislavv/go-ash-speculate/internal/recovery"
	"github.com/stretchr/testify/require"
)

func trace(weights map[int32]float64, n int32) []recovery.Step {
	row := recovery.Row{}
	for p := int32(0); p < n; p++ {
		row.Positions = append(row.Positions, p)
		row.Weights = append(row.Weights, weights[p])
	}
	return []recovery.Step{{row}}
}

// TestSelect_HybridScenario picks the first candidate when it already recovers enough mass.
func TestSelect_HybridScenario(t *testing.T) {
	hybrid := NewHybrid(NewWindow(0.1), NewHeavyHitter(0.25, 0.1), NewFull())
	layers := [][]Candidate{live(0, 30)}
	// window(0.1) keeps {0,1,28,29} with budget 22 and 2 anchors
	steps := trace(map[int32]float64{0: 0.5, 29: 0.4, 10: 0.1}, 30)

	got, rec := Select(hybrid, layers, []int{22}, 2, steps, 0.85)

	require.Equal(t, NewWindow(0.1), got)
	require.InDelta(t, 0.90, rec, 1e-12)
}

// TestSelect_HybridFallsThrough moves to heavier candidates and finally to full.
func TestSelect_HybridFallsThrough(t *testing.T) {
	hybrid := NewHybrid(NewWindow(0.1), NewHeavyHitter(0.25, 0.1), NewFull())
	cands := live(0, 30)
	cands[10].Score = 1
	layers := [][]Candidate{cands}
	steps := trace(map[int32]float64{0: 0.5, 29: 0.3, 10: 0.2}, 30)

	got, rec := Select(hybrid, layers, []int{22}, 2, steps, 0.95)
	require.Equal(t, NewHeavyHitter(0.25, 0.1), got)
	require.InDelta(t, 1.0, rec, 1e-12)

	// with a trace the heavy hitters miss nothing fits and full is the fallback
	steps = trace(map[int32]float64{0: 0.5, 29: 0.3, 15: 0.2}, 30)
	got, _ = Select(hybrid, layers, []int{22}, 2, steps, 0.95)
	require.Equal(t, NewFull(), got)
}

// TestSelect_FullWithinBudget picks full only when nothing has to be evicted.
func TestSelect_FullWithinBudget(t *testing.T) {
	hybrid := NewHybrid(NewWindow(0.1), NewFull())
	steps := trace(map[int32]float64{5: 1}, 10)

	got, rec := Select(hybrid, [][]Candidate{live(0, 10)}, []int{16}, 2, steps, 0.99)

	require.Equal(t, NewWindow(0.1), got, "within budget every candidate recovers everything")
	require.Equal(t, 1.0, rec)
}

// TestSelect_Monotonic never picks a later candidate when the threshold decreases.
func TestSelect_Monotonic(t *testing.T) {
	hybrid := NewHybrid(NewWindow(0.05), NewWindow(0.3), NewHeavyHitter(0.3, 0.3), NewWindow(0.9), NewFull())
	cands := live(0, 64)
	weights := map[int32]float64{}
	for i := range cands {
		cands[i].Score = float64((i * 13) % 11)
		weights[int32(i)] = float64((i*13)%11) + 0.5
	}
	layers := [][]Candidate{cands, cands}
	row := trace(weights, 64)[0][0]
	steps := []recovery.Step{{row, row}}

	index := func(p Policy) int {
		for i, c := range hybrid.Candidates {
			if c.Kind == p.Kind && c.RecentFrac == p.RecentFrac && c.HeavyFrac == p.HeavyFrac {
				return i
			}
		}
		t.Fatalf("unknown policy %s", p)
		return -1
	}

	prev := len(hybrid.Candidates)
	for threshold := 1.0; threshold >= 0; threshold -= 0.05 {
		got, _ := Select(hybrid, layers, []int{32, 32}, 4, steps, threshold)
		i := index(got)
		require.LessOrEqual(t, i, prev, "threshold %.2f", threshold)
		prev = i
	}
	require.Zero(t, prev)
}

// TestSelect_NonHybrid resolves to itself and reports its recovery.
func TestSelect_NonHybrid(t *testing.T) {
	steps := trace(map[int32]float64{0: 0.5, 5: 0.5}, 12)

	got, rec := Select(NewWindow(0.5), [][]Candidate{live(0, 12)}, []int{8}, 2, steps, 0.99)

	require.Equal(t, NewWindow(0.5), got)
	require.InDelta(t, 0.5, rec, 1e-12)
}
