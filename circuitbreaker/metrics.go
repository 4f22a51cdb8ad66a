package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// Metrics contains circuit breaker metrics.
type Metrics struct {
	callsTotal       *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
}

// NewMetrics creates new circuit breaker metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new circuit breaker metrics registered
// with the provided registerer. Duplicate registration is ignored because
// the descriptors are identical.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "guardrail"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuitbreaker",
				Name:      "calls_total",
				Help:      "Total number of calls by outcome",
			},
			[]string{"name", "outcome"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuitbreaker",
				Name:      "transitions_total",
				Help:      "Total number of state transitions",
			},
			[]string{"name", "from", "to"},
		),
	}

	for _, c := range []prometheus.Collector{m.callsTotal, m.transitionsTotal} {
		_ = registerer.Register(c)
	}

	return m
}

// RecordCall records a call outcome (success, failure, rejected).
func (m *Metrics) RecordCall(name, outcome string) {
	if m == nil || m.callsTotal == nil {
		return
	}
	m.callsTotal.WithLabelValues(name, outcome).Inc()
}

// RecordTransition records a state transition.
func (m *Metrics) RecordTransition(name string, from, to gobreaker.State) {
	if m == nil || m.transitionsTotal == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(name, from.String(), to.String()).Inc()
}
