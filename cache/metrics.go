package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains cache metrics.
type Metrics struct {
	hitsTotal       *prometheus.CounterVec
	missesTotal     *prometheus.CounterVec
	evictionsTotal  *prometheus.CounterVec
	expiredTotal    *prometheus.CounterVec
	violationsTotal *prometheus.CounterVec
	rejectedTotal   *prometheus.CounterVec
	entriesGauge    prometheus.Gauge
	memoryGauge     prometheus.Gauge
}

// NewMetrics creates new cache metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new cache metrics registered with the
// provided registerer. Duplicate registration is ignored because the
// descriptors are identical.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "guardrail"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      name,
				Help:      help,
			},
			[]string{"partition"},
		)
	}

	m := &Metrics{
		hitsTotal:       counter("hits_total", "Total number of cache hits"),
		missesTotal:     counter("misses_total", "Total number of cache misses"),
		evictionsTotal:  counter("evictions_total", "Total number of evicted entries"),
		expiredTotal:    counter("expired_total", "Total number of expired entries"),
		violationsTotal: counter("security_violations_total", "Total number of integrity failures"),
		rejectedTotal:   counter("rejected_total", "Total number of rejected puts"),
		entriesGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of cache entries",
		}),
		memoryGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "memory_bytes",
			Help:      "Running total of stored value sizes",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.hitsTotal, m.missesTotal, m.evictionsTotal, m.expiredTotal,
		m.violationsTotal, m.rejectedTotal, m.entriesGauge, m.memoryGauge,
	} {
		_ = registerer.Register(c)
	}

	return m
}

// RecordHit records a cache hit.
func (m *Metrics) RecordHit(partition string) {
	if m == nil || m.hitsTotal == nil {
		return
	}
	m.hitsTotal.WithLabelValues(partition).Inc()
}

// RecordMiss records a cache miss.
func (m *Metrics) RecordMiss(partition string) {
	if m == nil || m.missesTotal == nil {
		return
	}
	m.missesTotal.WithLabelValues(partition).Inc()
}

// RecordEviction records an evicted entry.
func (m *Metrics) RecordEviction(partition string) {
	if m == nil || m.evictionsTotal == nil {
		return
	}
	m.evictionsTotal.WithLabelValues(partition).Inc()
}

// RecordExpiration records an expired entry.
func (m *Metrics) RecordExpiration(partition string) {
	if m == nil || m.expiredTotal == nil {
		return
	}
	m.expiredTotal.WithLabelValues(partition).Inc()
}

// RecordViolation records an integrity failure.
func (m *Metrics) RecordViolation(partition string) {
	if m == nil || m.violationsTotal == nil {
		return
	}
	m.violationsTotal.WithLabelValues(partition).Inc()
}

// RecordRejected records a rejected put.
func (m *Metrics) RecordRejected(partition string) {
	if m == nil || m.rejectedTotal == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(partition).Inc()
}

// SetSize updates the entry and memory gauges.
func (m *Metrics) SetSize(entries int, memoryBytes int64) {
	if m == nil || m.entriesGauge == nil {
		return
	}
	m.entriesGauge.Set(float64(entries))
	m.memoryGauge.Set(float64(memoryBytes))
}
