package security

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains manager-level metrics.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	violationsTotal   *prometheus.CounterVec
	degradedTotal     prometheus.Counter
}

// NewMetrics creates new manager metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new manager metrics registered with the
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
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "security",
				Name:      "operations_total",
				Help:      "Total number of protected operations by result",
			},
			[]string{"operation", "result"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "security",
				Name:      "operation_duration_seconds",
				Help:      "Protected operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "security",
				Name:      "violations_total",
				Help:      "Total number of failed security checks by kind",
			},
			[]string{"kind"},
		),
		degradedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "degraded_total",
			Help:      "Total number of operations completed in degraded mode",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.operationsTotal, m.operationDuration, m.violationsTotal, m.degradedTotal,
	} {
		_ = registerer.Register(c)
	}

	return m
}

// RecordOperation records a completed protected operation.
func (m *Metrics) RecordOperation(operation, result string, elapsed time.Duration) {
	if m == nil || m.operationsTotal == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordViolation records a failed security check.
func (m *Metrics) RecordViolation(kind string) {
	if m == nil || m.violationsTotal == nil {
		return
	}
	m.violationsTotal.WithLabelValues(kind).Inc()
}

// RecordDegraded records a degraded-mode completion.
func (m *Metrics) RecordDegraded() {
	if m == nil || m.degradedTotal == nil {
		return
	}
	m.degradedTotal.Inc()
}
