package config

import (
	"fmt"

	"github.com/Borislavv/go-ash-speculate/model"
)

type SessionCfg struct {
	// NumSamples is how many independent sessions are generated for one prompt.
	// Sample i uses seed Speculation.Seed+i.
	NumSamples int `yaml:"num_samples"`

	// MaxNewTokens bounds the generated tokens per sample.
	MaxNewTokens int `yaml:"max_new_tokens"`

	// StopTokens end a session as soon as one of them is committed.
	StopTokens []int32 `yaml:"stop_tokens"`

	// SamplesPerSec paces session starts. Zero starts all samples at once.
	SamplesPerSec int `yaml:"samples_per_sec"`

	// IsStopToken is derived from StopTokens during initialization.
	// This field is not read from YAML.
	IsStopToken map[int32]struct{} `yaml:"-"` // virtual: computed during init
}

func (cfg *SessionCfg) Validate() error {
	if cfg.NumSamples <= 0 {
		return fmt.Errorf("%w: num_samples %d must be positive", model.ErrInvalidPolicyConfiguration, cfg.NumSamples)
	}
	if cfg.MaxNewTokens <= 0 {
		return fmt.Errorf("%w: max_new_tokens %d must be positive", model.ErrInvalidPolicyConfiguration, cfg.MaxNewTokens)
	}
	return nil
}

func (cfg *SessionCfg) Stop(id int32) bool {
	_, ok := cfg.IsStopToken[id]
	return ok
}
