package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains rate limiter metrics.
type Metrics struct {
	allowedTotal  *prometheus.CounterVec
	deniedTotal   *prometheus.CounterVec
	activeClients prometheus.Gauge
}

// NewMetrics creates new limiter metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new limiter metrics registered with the
// provided registerer. Duplicate registration is ignored because the
// descriptors are identical.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "guardrail"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		allowedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "allowed_total",
				Help:      "Total number of allowed rate limit checks",
			},
			[]string{"operation"},
		),
		deniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "denied_total",
				Help:      "Total number of denied rate limit checks",
			},
			[]string{"operation", "scope"},
		),
		activeClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "active_clients",
				Help:      "Number of tracked per-client buckets",
			},
		),
	}

	_ = registerer.Register(m.allowedTotal)
	_ = registerer.Register(m.deniedTotal)
	_ = registerer.Register(m.activeClients)

	return m
}

// RecordAllowed records an allowed check.
func (m *Metrics) RecordAllowed(operation string) {
	if m == nil || m.allowedTotal == nil {
		return
	}
	m.allowedTotal.WithLabelValues(operation).Inc()
}

// RecordDenied records a denied check.
func (m *Metrics) RecordDenied(operation, scope string) {
	if m == nil || m.deniedTotal == nil {
		return
	}
	m.deniedTotal.WithLabelValues(operation, scope).Inc()
}

// SetActiveClients updates the active client gauge.
func (m *Metrics) SetActiveClients(n int) {
	if m == nil || m.activeClients == nil {
		return
	}
	m.activeClients.Set(float64(n))
}
