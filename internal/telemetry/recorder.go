package telemetry

import "sync/atomic"

// Round is what one finished round reports.
type Round struct {
	Proposed  int
	Accepted  int
	Committed int

	EvictedItems     int64
	EvictedBytes     int64
	HardEvictedItems int64
	HardEvictedBytes int64
	Rewound          int64
	EvictorScans     int64
	EvictorHits      int64

	Occupied  int64
	Budget    int64
	Recovered float64
}

// Recorder accumulates counters over every session of an engine.
// It is safe for concurrent use; a nil Recorder records nothing.
type Recorder struct {
	sessions atomic.Int64
	failures atomic.Int64
	rounds   atomic.Int64
	proposed atomic.Int64
	accepted atomic.Int64
	tokens   atomic.Int64

	evictedItems     atomic.Int64
	evictedBytes     atomic.Int64
	hardEvictedItems atomic.Int64
	hardEvictedBytes atomic.Int64
	rewound          atomic.Int64
	evictorScans     atomic.Int64
	evictorHits      atomic.Int64

	occupied atomic.Int64
	budget   atomic.Int64

	metrics *Metrics
}

// NewRecorder returns a Recorder that also feeds metrics when it is not nil.
func NewRecorder(metrics *Metrics) *Recorder {
	return &Recorder{metrics: metrics}
}

func (r *Recorder) ObserveRound(rd Round) {
	if r == nil {
		return
	}
	r.rounds.Add(1)
	r.proposed.Add(int64(rd.Proposed))
	r.accepted.Add(int64(rd.Accepted))
	r.tokens.Add(int64(rd.Committed))
	r.evictedItems.Add(rd.EvictedItems)
	r.evictedBytes.Add(rd.EvictedBytes)
	r.hardEvictedItems.Add(rd.HardEvictedItems)
	r.hardEvictedBytes.Add(rd.HardEvictedBytes)
	r.rewound.Add(rd.Rewound)
	r.evictorScans.Add(rd.EvictorScans)
	r.evictorHits.Add(rd.EvictorHits)
	r.occupied.Store(rd.Occupied)
	r.budget.Store(rd.Budget)

	if m := r.metrics; m != nil {
		m.rounds.Inc()
		m.tokens.WithLabelValues("proposed").Add(float64(rd.Proposed))
		m.tokens.WithLabelValues("accepted").Add(float64(rd.Accepted))
		m.tokens.WithLabelValues("committed").Add(float64(rd.Committed))
		m.evicted.WithLabelValues("policy").Add(float64(rd.EvictedItems))
		m.evicted.WithLabelValues("hard_limit").Add(float64(rd.HardEvictedItems))
		m.evicted.WithLabelValues("rewind").Add(float64(rd.Rewound))
		if rd.Budget > 0 {
			m.occupancy.Set(float64(rd.Occupied) / float64(rd.Budget))
		}
		m.recovered.Observe(rd.Recovered)
	}
}

// ObserveSession counts a finished session under the policy it ran with.
func (r *Recorder) ObserveSession(policy string, err error) {
	if r == nil {
		return
	}
	status := "ok"
	r.sessions.Add(1)
	if err != nil {
		status = "error"
		r.failures.Add(1)
	}
	if r.metrics != nil {
		r.metrics.sessions.WithLabelValues(policy, status).Inc()
	}
}

// Occupancy returns the target cache occupancy reported by the latest round.
func (r *Recorder) Occupancy() (occupied, budget int64) {
	return r.occupied.Load(), r.budget.Load()
}

// SpeculationMetrics returns cumulative session and token counters.
func (r *Recorder) SpeculationMetrics() (sessions, failures, rounds, proposed, accepted, tokens int64) {
	return r.sessions.Load(), r.failures.Load(), r.rounds.Load(), r.proposed.Load(), r.accepted.Load(), r.tokens.Load()
}

// EvictionMetrics returns cumulative eviction counters.
func (r *Recorder) EvictionMetrics() (evictedItems, evictedBytes, hardEvictedItems, hardEvictedBytes, rewound int64) {
	return r.evictedItems.Load(), r.evictedBytes.Load(), r.hardEvictedItems.Load(), r.hardEvictedBytes.Load(), r.rewound.Load()
}

// EvictorMetrics returns how often the policy evictor ran and how often it found work.
func (r *Recorder) EvictorMetrics() (scans, hits int64) {
	return r.evictorScans.Load(), r.evictorHits.Load()
}
