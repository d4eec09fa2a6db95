package config

import (
	"errors"
	"fmt"
	"math"

	"github.com/Borislavv/go-ash-speculate/model"
	"gopkg.in/yaml.v3"
)

// Strategy names an eviction policy family.
type Strategy string

const (
	// StrategyWindow keeps the anchors plus the most recent positions.
	StrategyWindow Strategy = "window"

	// StrategyWindowHeavyHitter keeps anchors, recent positions and the positions with
	// the highest cumulative attention.
	StrategyWindowHeavyHitter Strategy = "window_heavy_hitter"

	// StrategyHybrid picks the first candidate of Hybrid meeting MinRecoveryFrac.
	StrategyHybrid Strategy = "hybrid"

	// StrategyFull never evicts.
	StrategyFull Strategy = "full"
)

// PromptCompression names the one-time compression applied while the prompt is ingested.
type PromptCompression string

const (
	// PromptCompressionNone ingests the prompt under the decode policy.
	PromptCompressionNone         PromptCompression = "none"
	PromptCompressionRecentGlobal PromptCompression = "recent_global"
	PromptCompressionSnapKV       PromptCompression = "snapkv"
	PromptCompressionL2           PromptCompression = "l2"
)

// multipleOf aligns absolute cache lengths for kernels working on tiles of 8.
const multipleOf = 8

// PolicyCfg is one hybrid candidate.
type PolicyCfg struct {
	Strategy        Strategy `yaml:"strategy"`
	RecentWindow    float64  `yaml:"recent_window"`
	HeavyHitterFrac float64  `yaml:"heavy_hitter_frac"`
}

type CacheCfg struct {
	// Strategy selects the steady-state eviction policy.
	// Supported values: "window", "window_heavy_hitter", "hybrid", "full".
	Strategy Strategy `yaml:"cache_strategy"`

	// MaxCacheLength defines the eviction budget per layer. Values in (0, 1] are a
	// fraction of MaxSeqLength, larger values an absolute count. A list is tiled
	// across layers and its length must divide the layer count.
	//
	// Example:
	//   max_cache_length: 0.25
	//   max_cache_length: [256, 512]
	MaxCacheLength CacheLengths `yaml:"max_cache_length"`

	// MaxSeqLength is the longest sequence (prompt plus generated tokens) a session serves.
	MaxSeqLength int `yaml:"max_seq_length"`

	// GlobalTokens is the count of leading positions that are never evicted.
	GlobalTokens int `yaml:"global_tokens"`

	// RecentWindow is the fraction of the non-anchor budget kept for the most recent positions.
	RecentWindow float64 `yaml:"recent_window"`

	// HeavyHitterFrac is the fraction of the non-anchor budget kept for heavy hitters.
	HeavyHitterFrac float64 `yaml:"heavy_hitter_frac"`

	// HeavyHitterDecay turns the cumulative attention score into an exponential moving
	// sum when in (0, 1). Zero keeps a plain running sum.
	HeavyHitterDecay float64 `yaml:"heavy_hitter_decay"`

	// MinRecoveryFrac is the minimum attention mass a hybrid candidate must preserve.
	MinRecoveryFrac float64 `yaml:"min_recovery_frac"`

	// RecoveryWindow is the number of recent steps averaged by the recovery estimator.
	RecoveryWindow int `yaml:"recovery_window"`

	// ReselectEvery re-runs hybrid selection every N rounds. Zero selects once per request.
	ReselectEvery int `yaml:"reselect_every"`

	// Hybrid is the ordered candidate list evaluated by the hybrid strategy.
	// The last candidate must be "full".
	Hybrid []PolicyCfg `yaml:"hybrid"`

	// PromptCompressionStrategy applies to prompt ingestion only.
	// Supported values: "none", "recent_global", "snapkv", "l2".
	PromptCompressionStrategy PromptCompression `yaml:"prompt_compression_strategy"`
}

// CacheLengths accepts either a scalar or a list in yaml.
type CacheLengths []float64

func (l *CacheLengths) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var v float64
		if err := node.Decode(&v); err != nil {
			return err
		}
		*l = CacheLengths{v}
		return nil
	}
	var vs []float64
	if err := node.Decode(&vs); err != nil {
		return err
	}
	*l = vs
	return nil
}

func (cfg *CacheCfg) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{model.ErrInvalidPolicyConfiguration}, args...)...))
	}

	if !isFraction(cfg.RecentWindow) {
		invalid("recent_window %v outside [0,1]", cfg.RecentWindow)
	}
	if !isFraction(cfg.HeavyHitterFrac) {
		invalid("heavy_hitter_frac %v outside [0,1]", cfg.HeavyHitterFrac)
	}
	if !isFraction(cfg.MinRecoveryFrac) {
		invalid("min_recovery_frac %v outside [0,1]", cfg.MinRecoveryFrac)
	}
	if cfg.HeavyHitterDecay < 0 || cfg.HeavyHitterDecay >= 1 {
		invalid("heavy_hitter_decay %v outside [0,1)", cfg.HeavyHitterDecay)
	}
	if cfg.GlobalTokens < 0 {
		invalid("global_tokens %d is negative", cfg.GlobalTokens)
	}
	if cfg.MaxSeqLength <= 0 {
		invalid("max_seq_length %d must be positive", cfg.MaxSeqLength)
	}
	if len(cfg.MaxCacheLength) == 0 {
		invalid("max_cache_length is required")
	}
	for _, l := range cfg.MaxCacheLength {
		if l <= 0 || (l > 1 && l != math.Trunc(l)) {
			invalid("max_cache_length %v must be a fraction in (0,1] or a whole count", l)
		}
	}

	switch cfg.Strategy {
	case StrategyWindow, StrategyWindowHeavyHitter, StrategyFull:
	case StrategyHybrid:
		if len(cfg.Hybrid) == 0 {
			invalid("hybrid strategy requires a candidate list")
		} else if cfg.Hybrid[len(cfg.Hybrid)-1].Strategy != StrategyFull {
			invalid("hybrid candidate list must end with %q", StrategyFull)
		}
		for i, c := range cfg.Hybrid {
			switch c.Strategy {
			case StrategyWindow, StrategyWindowHeavyHitter, StrategyFull:
			default:
				invalid("hybrid candidate %d has unsupported strategy %q", i, c.Strategy)
			}
			if !isFraction(c.RecentWindow) || !isFraction(c.HeavyHitterFrac) {
				invalid("hybrid candidate %d fractions outside [0,1]", i)
			}
		}
	default:
		invalid("unknown cache_strategy %q", cfg.Strategy)
	}

	switch cfg.PromptCompressionStrategy {
	case PromptCompressionNone, PromptCompressionRecentGlobal, PromptCompressionSnapKV, PromptCompressionL2:
	default:
		invalid("unknown prompt_compression_strategy %q", cfg.PromptCompressionStrategy)
	}

	return errors.Join(errs...)
}

// Budgets resolves MaxCacheLength into one absolute budget per layer.
func (cfg *CacheCfg) Budgets(numLayers int) ([]int, error) {
	if numLayers <= 0 || len(cfg.MaxCacheLength) == 0 {
		return nil, fmt.Errorf("%w: no layers or no max_cache_length", model.ErrInvalidPolicyConfiguration)
	}
	if numLayers%len(cfg.MaxCacheLength) != 0 {
		return nil, fmt.Errorf("%w: max_cache_length (%d values) must be a factor of %d layers",
			model.ErrInvalidPolicyConfiguration, len(cfg.MaxCacheLength), numLayers)
	}

	tile := numLayers / len(cfg.MaxCacheLength)
	budgets := make([]int, 0, numLayers)
	for _, l := range cfg.MaxCacheLength {
		b := NormalizeCacheLength(l, cfg.MaxSeqLength)
		if b <= 0 {
			return nil, fmt.Errorf("%w: max_cache_length %v leaves no room under max_seq_length %d",
				model.ErrInvalidPolicyConfiguration, l, cfg.MaxSeqLength)
		}
		if cfg.GlobalTokens > b {
			return nil, fmt.Errorf("%w: global_tokens %d must not exceed max_cache_length %d",
				model.ErrInvalidPolicyConfiguration, cfg.GlobalTokens, b)
		}
		for i := 0; i < tile; i++ {
			budgets = append(budgets, b)
		}
	}
	return budgets, nil
}

// NormalizeCacheLength turns a fraction or absolute count into an absolute length,
// rounded up to a multiple of 8 and clamped to maxSeqLength.
func NormalizeCacheLength(length float64, maxSeqLength int) int {
	var n int
	if length > 0 && length <= 1 {
		n = int(math.Round(float64(maxSeqLength) * length))
	} else {
		n = min(int(length), maxSeqLength)
	}
	return min(findMultiple(n, multipleOf), maxSeqLength)
}

func findMultiple(n, k int) int {
	if n%k == 0 {
		return n
	}
	return n + k - n%k
}

func isFraction(v float64) bool { return v >= 0 && v <= 1 }
