package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/Borislavv/go-ash-speculate/model"
	"gopkg.in/yaml.v3"
)

// Config groups configuration of all subsystems.
// Telemetry and Persistence are optional and disabled when nil.
type Config struct {
	// Cache configures the KV cache budget and the eviction policy engine.
	Cache *CacheCfg `yaml:"cache"`

	// Speculation configures the draft-then-verify loop.
	Speculation *SpeculationCfg `yaml:"speculation"`

	// Session configures stop conditions and how many samples are generated.
	Session *SessionCfg `yaml:"session"`

	// Telemetry configures periodic interval logs and prometheus collectors.
	// If nil, no background logging is performed.
	Telemetry *TelemetryCfg `yaml:"telemetry"`

	// Persistence configures cache snapshot dumps written after a session.
	// If nil, no dumps are produced.
	Persistence *PersistenceCfg `yaml:"persistence"`
}

// Default returns a configuration that works out of the box: window policy over half
// of a 4096 tokens sequence, four anchors and four drafted tokens per round.
func Default() *Config {
	return &Config{
		Cache: &CacheCfg{
			Strategy:                  StrategyWindow,
			MaxCacheLength:            CacheLengths{0.5},
			MaxSeqLength:              4096,
			GlobalTokens:              4,
			RecentWindow:              0.5,
			HeavyHitterFrac:           0.25,
			MinRecoveryFrac:           0.85,
			RecoveryWindow:            1,
			PromptCompressionStrategy: PromptCompressionNone,
		},
		Speculation: &SpeculationCfg{
			SpeculateK:  4,
			Temperature: 0,
			Seed:        42,
		},
		Session: &SessionCfg{
			NumSamples:   1,
			MaxNewTokens: 128,
		},
	}
}

// AdjustConfig fills derived fields. It must be called after any manual modification.
func (cfg *Config) AdjustConfig() {
	if cfg.Cache != nil {
		if cfg.Cache.Strategy == StrategyHybrid && len(cfg.Cache.Hybrid) == 0 {
			cfg.Cache.Hybrid = []PolicyCfg{
				{Strategy: StrategyWindow, RecentWindow: cfg.Cache.RecentWindow},
				{Strategy: StrategyWindowHeavyHitter, RecentWindow: cfg.Cache.RecentWindow, HeavyHitterFrac: cfg.Cache.HeavyHitterFrac},
				{Strategy: StrategyFull},
			}
		}
		if cfg.Cache.RecoveryWindow <= 0 {
			cfg.Cache.RecoveryWindow = 1
		}
		if cfg.Cache.PromptCompressionStrategy == "" {
			cfg.Cache.PromptCompressionStrategy = PromptCompressionNone
		}
	}

	if cfg.Speculation != nil {
		cfg.Speculation.IsGreedy = cfg.Speculation.Temperature == 0
	}

	if cfg.Session != nil {
		cfg.Session.IsStopToken = make(map[int32]struct{}, len(cfg.Session.StopTokens))
		for _, id := range cfg.Session.StopTokens {
			cfg.Session.IsStopToken[id] = struct{}{}
		}
	}
}

// Validate reports every configuration problem at once. Policy problems wrap
// model.ErrInvalidPolicyConfiguration.
func (cfg *Config) Validate() error {
	if cfg.Cache == nil || cfg.Speculation == nil || cfg.Session == nil {
		return fmt.Errorf("%w: cache, speculation and session sections are required", model.ErrInvalidPolicyConfiguration)
	}
	return errors.Join(
		cfg.Cache.Validate(),
		cfg.Speculation.Validate(),
		cfg.Session.Validate(),
	)
}

func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config yaml file %s: %w", path, err)
	}

	cfg := Default()
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml from %s: %w", path, err)
	}
	cfg.AdjustConfig()

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}

	return cfg, nil
}
