package evictor

import (
	"log/slog"

	"github.com/Borislavv/go-ash-speculate/internal/cache"
	"github.com/Borislavv/go-ash-speculate/internal/policy"
)

type Evictor interface {
	// Evict brings every layer of c back within its budget under the evictor policy.
	Evict(c *cache.Cache) (freedBytes, evicted int64)
	Policy() policy.Policy
	Metrics() (scans, hits, evictedItems, evictedBytes int64)
}

// PolicyEvictor applies a resolved (non hybrid) policy synchronously after each round.
// Evict and the appends of the next round run on the same goroutine, so a layer is
// never appended to while it is being evicted.
type PolicyEvictor struct {
	policy   policy.Policy
	anchors  int32
	logger   *slog.Logger
	counters *evictorCounters
}

// New returns a NoOpEvictor for Full and a PolicyEvictor otherwise.
func New(p policy.Policy, anchors int32, logger *slog.Logger) Evictor {
	return build(p, anchors, logger, newEvictorCounters())
}

// Reselect returns the evictor for p that keeps counting into prev's counters,
// so scans and hits survive a hybrid re-selection.
func Reselect(prev Evictor, p policy.Policy, anchors int32, logger *slog.Logger) Evictor {
	var counters *evictorCounters
	switch e := prev.(type) {
	case *PolicyEvictor:
		counters = e.counters
	case *NoOpEvictor:
		counters = e.counters
	}
	if counters == nil {
		counters = newEvictorCounters()
	}
	return build(p, anchors, logger, counters)
}

func build(p policy.Policy, anchors int32, logger *slog.Logger, counters *evictorCounters) Evictor {
	if p.Kind == policy.Full || p.Kind == policy.Hybrid {
		return &NoOpEvictor{policy: p, counters: counters}
	}
	logger.Debug("evictor is ready", "policy", p.String(), "anchors", anchors)
	return &PolicyEvictor{
		policy:   p,
		anchors:  anchors,
		logger:   logger,
		counters: counters,
	}
}

func (e *PolicyEvictor) Policy() policy.Policy { return e.policy }

func (e *PolicyEvictor) Metrics() (scans, hits, evictedItems, evictedBytes int64) {
	return e.counters.snapshot()
}

func (e *PolicyEvictor) Evict(c *cache.Cache) (freedBytes, evicted int64) {
	e.counters.scans.Add(1)
	if !c.OverBudget() {
		return 0, 0
	}
	e.counters.hits.Add(1)

	// decide for every layer first, then apply
	store := c.Store()
	keep := make([][]int32, store.NumLayers())
	for l, cands := range c.Candidates() {
		layer := store.Layer(l)
		if len(cands) > layer.Budget() {
			keep[l] = policy.Retain(e.policy, cands, layer.Budget(), e.anchors)
		}
	}

	for l, positions := range keep {
		if positions == nil {
			continue
		}
		f, n := store.Layer(l).Retain(positions)
		freedBytes += f
		evicted += n
	}
	if evicted > 0 {
		store.Compact()
		e.counters.evictedItems.Add(evicted)
		e.counters.evictedBytes.Add(freedBytes)
	}
	return freedBytes, evicted
}
