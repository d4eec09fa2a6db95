// Package policy decides which KV cache positions survive an eviction.
//
// A Policy is plain configuration: a closed set of kinds dispatched by Retain and
// Select. Adding a kind means adding a tag and a case to both functions.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Borislavv/go-ash-speculate/config"
	"github.com/Borislavv/go-ash-speculate/model"
)

type Kind uint8

const (
	// Full never evicts. It is the hybrid fallback and the recovery baseline.
	Full Kind = iota
	// Window keeps the anchors and the most recent positions.
	Window
	// HeavyHitter keeps the anchors, the most recent positions and the positions
	// with the highest cumulative attention.
	HeavyHitter
	// Hybrid resolves to the first candidate meeting the recovery threshold.
	Hybrid
)

func (k Kind) String() string {
	switch k {
	case Full:
		return "full"
	case Window:
		return "window"
	case HeavyHitter:
		return "heavy_hitter"
	case Hybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Policy is a tagged variant. RecentFrac and HeavyFrac are fractions of the
// non-anchor budget; Candidates is used by Hybrid only.
type Policy struct {
	Kind       Kind
	RecentFrac float64
	HeavyFrac  float64
	Candidates []Policy
}

func NewFull() Policy                  { return Policy{Kind: Full} }
func NewWindow(recent float64) Policy  { return Policy{Kind: Window, RecentFrac: recent} }
func NewHybrid(cands ...Policy) Policy { return Policy{Kind: Hybrid, Candidates: cands} }
func NewHeavyHitter(heavy, recent float64) Policy {
	return Policy{Kind: HeavyHitter, HeavyFrac: heavy, RecentFrac: recent}
}

// FromConfig builds the decode policy from the cache configuration.
func FromConfig(cfg *config.CacheCfg) (Policy, error) {
	var p Policy
	switch cfg.Strategy {
	case config.StrategyHybrid:
		cands := make([]Policy, 0, len(cfg.Hybrid))
		for _, c := range cfg.Hybrid {
			sub, err := fromStrategy(c.Strategy, c.RecentWindow, c.HeavyHitterFrac)
			if err != nil {
				return Policy{}, err
			}
			cands = append(cands, sub)
		}
		p = NewHybrid(cands...)
	default:
		var err error
		if p, err = fromStrategy(cfg.Strategy, cfg.RecentWindow, cfg.HeavyHitterFrac); err != nil {
			return Policy{}, err
		}
	}
	return p, p.Validate()
}

func fromStrategy(s config.Strategy, recent, heavy float64) (Policy, error) {
	switch s {
	case config.StrategyWindow:
		return NewWindow(recent), nil
	case config.StrategyWindowHeavyHitter:
		return NewHeavyHitter(heavy, recent), nil
	case config.StrategyFull:
		return NewFull(), nil
	default:
		return Policy{}, fmt.Errorf("%w: unsupported strategy %q", model.ErrInvalidPolicyConfiguration, s)
	}
}

// Validate rejects fractions outside [0,1] and hybrid lists without a terminal Full.
func (p Policy) Validate() error {
	if p.RecentFrac < 0 || p.RecentFrac > 1 || p.HeavyFrac < 0 || p.HeavyFrac > 1 {
		return fmt.Errorf("%w: %s fractions outside [0,1]", model.ErrInvalidPolicyConfiguration, p)
	}
	switch p.Kind {
	case Full, Window, HeavyHitter:
		return nil
	case Hybrid:
		if len(p.Candidates) == 0 || p.Candidates[len(p.Candidates)-1].Kind != Full {
			return fmt.Errorf("%w: hybrid candidates must end with full", model.ErrInvalidPolicyConfiguration)
		}
		var errs []error
		for i, c := range p.Candidates {
			if c.Kind == Hybrid {
				errs = append(errs, fmt.Errorf("%w: hybrid candidate %d is hybrid", model.ErrInvalidPolicyConfiguration, i))
				continue
			}
			errs = append(errs, c.Validate())
		}
		return errors.Join(errs...)
	default:
		return fmt.Errorf("%w: unknown policy kind %d", model.ErrInvalidPolicyConfiguration, p.Kind)
	}
}

func (p Policy) String() string {
	switch p.Kind {
	case Window:
		return fmt.Sprintf("window(%.2f)", p.RecentFrac)
	case HeavyHitter:
		return fmt.Sprintf("heavy_hitter(%.2f,%.2f)", p.HeavyFrac, p.RecentFrac)
	case Hybrid:
		names := make([]string, len(p.Candidates))
		for i, c := range p.Candidates {
			names[i] = c.String()
		}
		return "hybrid[" + strings.Join(names, ",") + "]"
	default:
		return p.Kind.String()
	}
}
