package evictor

import (
	"log/slog"
	"testing"

	"github.com/Borislavv/go-ash-speculate/internal/cache"
	"github.com/Borislavv/go-ash-speculate/internal/policy"
	"github.com/Borislavv/go-ash-speculate/model"
	"github.com/stretchr/testify/require"
)

// filled returns a two-layer cache holding positions [0, n) with the given budget.
func filled(t *testing.T, budget int, n int32) *cache.Cache {
	t.Helper()
	c := cache.New("target", []int{budget, budget}, int(n), 2, 0, slog.Default())
	res := &model.ScoreResult{
		Attention: make([][][]float64, 2),
		Keys:      make([][][]float64, 2),
		Values:    make([][][]float64, 2),
	}
	for l := 0; l < 2; l++ {
		for i := int32(0); i < n; i++ {
			row := make([]float64, i+1)
			row[i] = 1
			res.Attention[l] = append(res.Attention[l], row)
			res.Keys[l] = append(res.Keys[l], []float64{1, 1})
			res.Values[l] = append(res.Values[l], []float64{1, 1})
		}
	}
	ids := make([]int32, n)
	_, err := c.Commit(c.View(), model.Tokens(0, ids...), res, int(n))
	require.NoError(t, err)
	return c
}

// TestPolicyEvictor_WindowScenario evicts exactly positions 2..8 of twelve.
func TestPolicyEvictor_WindowScenario(t *testing.T) {
	c := filled(t, 8, 12)
	ev := New(policy.NewWindow(0.5), 2, slog.Default())

	_, evicted := ev.Evict(c)

	require.Equal(t, int64(14), evicted)
	for l := 0; l < 2; l++ {
		require.Equal(t, []int32{0, 1, 9, 10, 11}, c.Store().Layer(l).Positions())
	}
	scans, hits, items, bytes := ev.Metrics()
	require.Equal(t, int64(1), scans)
	require.Equal(t, int64(1), hits)
	require.Equal(t, int64(14), items)
	require.Equal(t, int64(14*32), bytes)
}

// TestPolicyEvictor_WithinBudget is a no-op when no layer exceeds its budget.
func TestPolicyEvictor_WithinBudget(t *testing.T) {
	c := filled(t, 16, 12)
	ev := New(policy.NewWindow(0.1), 2, slog.Default())

	_, evicted := ev.Evict(c)

	require.Zero(t, evicted)
	require.Equal(t, int64(24), c.Len())
	scans, hits, _, _ := ev.Metrics()
	require.Equal(t, int64(1), scans)
	require.Zero(t, hits)
}

// TestPolicyEvictor_HeavyHitter keeps the self-attended positions with the highest score.
func TestPolicyEvictor_HeavyHitter(t *testing.T) {
	c := filled(t, 8, 12)
	ev := New(policy.NewHeavyHitter(0.5, 0.5), 2, slog.Default())

	ev.Evict(c)

	// every position got weight 1 once: ties keep the most recent non-recent positions
	require.Equal(t, []int32{0, 1, 6, 7, 8, 9, 10, 11}, c.Store().Layer(0).Positions())
	require.False(t, c.OverBudget())
}

// TestEvictors_BudgetBound keeps every policy within budget once the hard limit ran.
func TestEvictors_BudgetBound(t *testing.T) {
	for _, p := range []policy.Policy{policy.NewWindow(0.5), policy.NewHeavyHitter(0.25, 0.25), policy.NewFull()} {
		c := filled(t, 8, 20)
		New(p, 2, slog.Default()).Evict(c)
		c.HardEvictUntilWithinBudget(2)

		for l := 0; l < 2; l++ {
			layer := c.Store().Layer(l)
			require.LessOrEqual(t, layer.Len(), int64(8), p.String())
			require.Equal(t, []int32{0, 1}, layer.Positions()[:2], p.String())
		}
	}
}

// TestReselect_KeepsCounters carries scans and hits from the previous evictor.
func TestReselect_KeepsCounters(t *testing.T) {
	c := filled(t, 16, 12)
	ev := New(policy.NewHybrid(policy.NewWindow(0.5), policy.NewFull()), 2, slog.Default())
	ev.Evict(c)

	ev = Reselect(ev, policy.NewWindow(0.5), 2, slog.Default())
	require.IsType(t, &PolicyEvictor{}, ev)
	ev.Evict(filled(t, 8, 12))

	ev = Reselect(ev, policy.NewFull(), 2, slog.Default())
	require.IsType(t, &NoOpEvictor{}, ev)
	ev.Evict(c)

	scans, hits, items, _ := ev.Metrics()
	require.Equal(t, int64(3), scans)
	require.Equal(t, int64(1), hits)
	require.Equal(t, int64(14), items)
}
