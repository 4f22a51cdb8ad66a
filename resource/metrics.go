package resource

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains resource monitor metrics.
type Metrics struct {
	memoryGauge     prometheus.Gauge
	cpuGauge        prometheus.Gauge
	goroutineGauge  prometheus.Gauge
	threadGauge     prometheus.Gauge
	fdGauge         prometheus.Gauge
	violationsTotal prometheus.Counter
}

// NewMetrics creates new resource metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new resource metrics registered with the
// provided registerer. Duplicate registration is ignored because the
// descriptors are identical.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "guardrail"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		memoryGauge:    gauge("memory_bytes", "Resident set size in bytes"),
		cpuGauge:       gauge("cpu_percent", "CPU usage percentage over the sampling interval"),
		goroutineGauge: gauge("goroutines", "Current goroutine count"),
		threadGauge:    gauge("threads", "Current OS thread count"),
		fdGauge:        gauge("open_fds", "Current open file descriptor count"),
		violationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "violations_total",
			Help:      "Total number of resource limit violations",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.memoryGauge, m.cpuGauge, m.goroutineGauge, m.threadGauge, m.fdGauge, m.violationsTotal,
	} {
		_ = registerer.Register(c)
	}

	return m
}

// RecordUsage updates the usage gauges from a sample.
func (m *Metrics) RecordUsage(usage Usage) {
	if m == nil || m.memoryGauge == nil {
		return
	}
	m.memoryGauge.Set(float64(usage.MemoryBytes))
	m.cpuGauge.Set(usage.CPUPercent)
	m.goroutineGauge.Set(float64(usage.Goroutines))
	m.threadGauge.Set(float64(usage.Threads))
	m.fdGauge.Set(float64(usage.OpenFiles))
}

// RecordViolation records a limit violation.
func (m *Metrics) RecordViolation() {
	if m == nil || m.violationsTotal == nil {
		return
	}
	m.violationsTotal.Inc()
}
