package policy

import (
	"testing"

	"github.com/Borislavv/go-ash-speculate/config"
	"github.com/Borislavv/go-ash-speculate/model"
	"github.com/stretchr/testify/require"
)

// TestFromConfig_Strategies maps every strategy to its policy kind.
func TestFromConfig_Strategies(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.RecentWindow, cfg.Cache.HeavyHitterFrac = 0.3, 0.2

	for strategy, want := range map[config.Strategy]Policy{
		config.StrategyWindow:            NewWindow(0.3),
		config.StrategyWindowHeavyHitter: NewHeavyHitter(0.2, 0.3),
		config.StrategyFull:              NewFull(),
	} {
		cfg.Cache.Strategy = strategy
		got, err := FromConfig(cfg.Cache)
		require.NoError(t, err)
		require.Equal(t, want, got, strategy)
	}
}

// TestFromConfig_Hybrid keeps the candidate order.
func TestFromConfig_Hybrid(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Strategy = config.StrategyHybrid
	cfg.Cache.Hybrid = []config.PolicyCfg{
		{Strategy: config.StrategyWindow, RecentWindow: 0.1},
		{Strategy: config.StrategyWindowHeavyHitter, RecentWindow: 0.1, HeavyHitterFrac: 0.25},
		{Strategy: config.StrategyFull},
	}

	got, err := FromConfig(cfg.Cache)
	require.NoError(t, err)
	require.Equal(t, NewHybrid(NewWindow(0.1), NewHeavyHitter(0.25, 0.1), NewFull()), got)
	require.Equal(t, "hybrid[window(0.10),heavy_hitter(0.25,0.10),full]", got.String())
}

// TestValidate_Errors rejects bad fractions and hybrid lists without a full fallback.
func TestValidate_Errors(t *testing.T) {
	for name, p := range map[string]Policy{
		"negative recent":  NewWindow(-0.1),
		"heavy above one":  NewHeavyHitter(1.5, 0.1),
		"empty hybrid":     NewHybrid(),
		"no full fallback": NewHybrid(NewWindow(0.1), NewHeavyHitter(0.2, 0.1)),
		"nested hybrid":    NewHybrid(NewHybrid(NewFull()), NewFull()),
		"bad candidate":    NewHybrid(NewWindow(2), NewFull()),
	} {
		require.ErrorIs(t, p.Validate(), model.ErrInvalidPolicyConfiguration, name)
	}

	require.NoError(t, NewHybrid(NewWindow(0.1), NewFull()).Validate())
	require.NoError(t, NewWindow(0).Validate())
}
