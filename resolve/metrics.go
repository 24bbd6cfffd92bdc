package resolve

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	EntitiesResolved *prometheus.CounterVec
	Relationships    *prometheus.CounterVec
	Merges           *prometheus.CounterVec
	PersistFailures  *prometheus.CounterVec
	ResolveDuration  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// gets a private registry so that repeated construction never panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		EntitiesResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akg_entities_resolved_total",
				Help: "Entity candidates resolved, by cascade step.",
			},
			[]string{"step"},
		),
		Relationships: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akg_relationships_total",
				Help: "Relationship candidates handled, by outcome.",
			},
			[]string{"outcome"},
		),
		Merges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akg_merges_total",
				Help: "Node merges attempted, by result.",
			},
			[]string{"result"},
		),
		PersistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akg_persist_failures_total",
				Help: "Batch items that exhausted their persistence retries.",
			},
			[]string{"kind"},
		),
		ResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "akg_resolve_duration_seconds",
				Help:    "Time spent in one entity find-or-create cascade.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	reg.MustRegister(m.EntitiesResolved, m.Relationships, m.Merges, m.PersistFailures, m.ResolveDuration)
	return m
}

func (m *Metrics) entityResolved(step MatchStep, start time.Time) {
	if m == nil {
		return
	}
	m.EntitiesResolved.WithLabelValues(string(step)).Inc()
	m.ResolveDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) relationship(outcome string) {
	if m == nil {
		return
	}
	m.Relationships.WithLabelValues(outcome).Inc()
}

func (m *Metrics) merge(result string) {
	if m == nil {
		return
	}
	m.Merges.WithLabelValues(result).Inc()
}

func (m *Metrics) persistFailure(kind string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(kind).Inc()
}
