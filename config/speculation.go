package config

import (
	"fmt"

	"github.com/Borislavv/go-ash-speculate/model"
)

type SpeculationCfg struct {
	// SpeculateK is the number of draft tokens proposed per round.
	// Zero degrades to plain target decoding.
	SpeculateK int `yaml:"speculate_k"`

	// Temperature scales logits before softmax. Zero means greedy.
	Temperature float64 `yaml:"temperature"`

	// Seed makes accept/reject and resampling draws reproducible.
	Seed uint64 `yaml:"seed"`

	// IsGreedy is derived from Temperature during initialization.
	// This field is not read from YAML.
	IsGreedy bool `yaml:"-"` // virtual: computed during init
}

func (cfg *SpeculationCfg) Validate() error {
	if cfg.SpeculateK < 0 {
		return fmt.Errorf("%w: speculate_k %d is negative", model.ErrInvalidPolicyConfiguration, cfg.SpeculateK)
	}
	if cfg.Temperature < 0 {
		return fmt.Errorf("%w: temperature %v is negative", model.ErrInvalidPolicyConfiguration, cfg.Temperature)
	}
	return nil
}
