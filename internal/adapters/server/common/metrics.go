package common

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for tree mutations.
type Metrics struct {
	mutations  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	deleted    prometheus.Counter
	violations *prometheus.GaugeVec
}

// NewMetrics registers the mutation collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wbs",
			Name:      "tree_mutations_total",
			Help:      "Tree mutations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wbs",
			Name:      "tree_mutation_duration_seconds",
			Help:      "Latency of tree mutations including rollup.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wbs",
			Name:      "deleted_items_total",
			Help:      "Work items removed by cascading deletes.",
		}),
		violations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wbs",
			Name:      "tree_violations",
			Help:      "Invariant violations found by the last verify of each project.",
		}, []string{"project_id"}),
	}
	for _, c := range []prometheus.Collector{m.mutations, m.duration, m.deleted, m.violations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(operation, ErrorCode(err)).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) addDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.Add(float64(n))
}

func (m *Metrics) setViolations(projectID string, n int) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(projectID).Set(float64(n))
}
