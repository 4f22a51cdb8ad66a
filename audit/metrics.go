package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains audit logger metrics.
type Metrics struct {
	eventsTotal    *prometheus.CounterVec
	droppedTotal   prometheus.Counter
	redactedTotal  prometheus.Counter
	flushesTotal   prometheus.Counter
	bufferedEvents prometheus.Gauge
}

// NewMetrics creates new audit metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new audit metrics registered with the
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
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of recorded audit events",
			},
			[]string{"type", "severity"},
		),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Total number of events dropped by the rate ceiling",
		}),
		redactedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "redactions_total",
			Help:      "Total number of redactions applied",
		}),
		flushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "flushes_total",
			Help:      "Total number of buffer flushes",
		}),
		bufferedEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "buffered_events",
			Help:      "Current number of events awaiting flush",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.eventsTotal, m.droppedTotal, m.redactedTotal, m.flushesTotal, m.bufferedEvents,
	} {
		_ = registerer.Register(c)
	}

	return m
}

// RecordEvent records a recorded event.
func (m *Metrics) RecordEvent(eventType EventType, severity Severity) {
	if m == nil || m.eventsTotal == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(eventType), string(severity)).Inc()
}

// RecordDropped records a dropped event.
func (m *Metrics) RecordDropped() {
	if m == nil || m.droppedTotal == nil {
		return
	}
	m.droppedTotal.Inc()
}

// RecordRedactions records applied redactions.
func (m *Metrics) RecordRedactions(n int) {
	if m == nil || m.redactedTotal == nil || n <= 0 {
		return
	}
	m.redactedTotal.Add(float64(n))
}

// RecordFlush records a buffer flush.
func (m *Metrics) RecordFlush(pending int) {
	if m == nil || m.flushesTotal == nil {
		return
	}
	m.flushesTotal.Inc()
	m.bufferedEvents.Set(float64(pending))
}

// SetBuffered updates the pending-events gauge.
func (m *Metrics) SetBuffered(pending int) {
	if m == nil || m.bufferedEvents == nil {
		return
	}
	m.bufferedEvents.Set(float64(pending))
}
