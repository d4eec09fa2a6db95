package telemetry

type sampler struct {
	recorder *Recorder
}

func newSampler(r *Recorder) sampler {
	return sampler{recorder: r}
}

// snapshot holds cumulative counters (monotonic).
type snapshot struct {
	sessions uint64
	failures uint64
	rounds   uint64
	proposed uint64
	accepted uint64
	tokens   uint64

	evictedItems     uint64
	evictedBytes     uint64
	hardEvictedItems uint64
	hardEvictedBytes uint64
	rewound          uint64
	scans            uint64
	hits             uint64
}

func (s sampler) snapshot() snapshot {
	sessions, failures, rounds, proposed, accepted, tokens := s.recorder.SpeculationMetrics()
	evItems, evBytes, hardItems, hardBytes, rewound := s.recorder.EvictionMetrics()
	scans, hits := s.recorder.EvictorMetrics()

	return snapshot{
		sessions: uint64(max(sessions, 0)),
		failures: uint64(max(failures, 0)),
		rounds:   uint64(max(rounds, 0)),
		proposed: uint64(max(proposed, 0)),
		accepted: uint64(max(accepted, 0)),
		tokens:   uint64(max(tokens, 0)),

		evictedItems:     uint64(max(evItems, 0)),
		evictedBytes:     uint64(max(evBytes, 0)),
		hardEvictedItems: uint64(max(hardItems, 0)),
		hardEvictedBytes: uint64(max(hardBytes, 0)),
		rewound:          uint64(max(rewound, 0)),
		scans:            uint64(max(scans, 0)),
		hits:             uint64(max(hits, 0)),
	}
}

// deltaSnapshot converts cumulative snapshots to per-interval deltas.
// If counters reset (cur < prev), it treats cur as the delta.
func deltaSnapshot(prev, cur snapshot) snapshot {
	return snapshot{
		sessions: delta(prev.sessions, cur.sessions),
		failures: delta(prev.failures, cur.failures),
		rounds:   delta(prev.rounds, cur.rounds),
		proposed: delta(prev.proposed, cur.proposed),
		accepted: delta(prev.accepted, cur.accepted),
		tokens:   delta(prev.tokens, cur.tokens),

		evictedItems:     delta(prev.evictedItems, cur.evictedItems),
		evictedBytes:     delta(prev.evictedBytes, cur.evictedBytes),
		hardEvictedItems: delta(prev.hardEvictedItems, cur.hardEvictedItems),
		hardEvictedBytes: delta(prev.hardEvictedBytes, cur.hardEvictedBytes),
		rewound:          delta(prev.rewound, cur.rewound),
		scans:            delta(prev.scans, cur.scans),
		hits:             delta(prev.hits, cur.hits),
	}
}

func delta(prev, cur uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	return cur
}

// acceptanceRate is accepted over proposed, zero when nothing was proposed.
func (s snapshot) acceptanceRate() float64 {
	if s.proposed == 0 {
		return 0
	}
	return float64(s.accepted) / float64(s.proposed)
}
