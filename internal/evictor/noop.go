package evictor

import (
	"github.com/Borislavv/go-ash-speculate/internal/cache"
	"github.com/Borislavv/go-ash-speculate/internal/policy"
)

// NoOpEvictor is a no-op implementation of Evictor.
// It serves Full and an unresolved Hybrid, whose budget bound is left to the cache hard limit.
type NoOpEvictor struct {
	policy   policy.Policy
	counters *evictorCounters
}

// Evict only counts the scan.
func (n *NoOpEvictor) Evict(*cache.Cache) (freedBytes, evicted int64) {
	if n.counters != nil {
		n.counters.scans.Add(1)
	}
	return 0, 0
}

func (n *NoOpEvictor) Policy() policy.Policy { return n.policy }

// Metrics reports scans only; a NoOpEvictor never hits.
func (n *NoOpEvictor) Metrics() (scans, hits, evictedItems, evictedBytes int64) {
	if n.counters == nil {
		return 0, 0, 0, 0
	}
	return n.counters.snapshot()
}
