package telemetry

import "github.com/prometheus/client_golang/prometheus"

const subsystem = "speculative"

// Metrics are the prometheus collectors fed by a Recorder.
type Metrics struct {
	rounds    prometheus.Counter
	tokens    *prometheus.CounterVec
	evicted   *prometheus.CounterVec
	sessions  *prometheus.CounterVec
	occupancy prometheus.Gauge
	recovered prometheus.Histogram
}

// NewMetrics creates the collectors under namespace and registers them on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rounds_total",
			Help:      "Number of draft-then-verify rounds.",
		}),
		tokens: newCounterVec(namespace, "tokens_total", "Drafted, accepted and committed tokens.", "kind"),
		evicted: newCounterVec(namespace, "evicted_entries_total",
			"KV entries removed by the eviction policy, the hard limit or a speculative rewind.", "reason"),
		sessions: newCounterVec(namespace, "sessions_total", "Finished sessions by selected policy and status.", "policy", "status"),
		occupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "compression_ratio",
			Help:      "Occupied over budget of the target cache after the last round.",
		}),
		recovered: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recovered_mass",
			Help:      "Estimated attention mass kept by the cache after eviction.",
			Buckets:   prometheus.LinearBuckets(0.5, 0.05, 11),
		}),
	}
	for _, c := range []prometheus.Collector{m.rounds, m.tokens, m.evicted, m.sessions, m.occupancy, m.recovered} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func newCounterVec(namespace, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}
