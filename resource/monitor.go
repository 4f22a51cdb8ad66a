package resource

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/vyrodovalexey/guardrail/observability"
	"github.com/vyrodovalexey/guardrail/util"
)

// Usage is a point-in-time sample of process resource usage.
type Usage struct {
	// MemoryBytes is the resident set size. Falls back to heap-in-use when
	// procfs is unavailable.
	MemoryBytes uint64 `json:"memoryBytes"`

	// CPUPercent is CPU usage since the previous sample, as a percentage
	// of one core. Zero on the first sample.
	CPUPercent float64 `json:"cpuPercent"`

	// Goroutines is the current goroutine count.
	Goroutines int `json:"goroutines"`

	// Threads is the OS-thread count. Zero when procfs is unavailable.
	Threads int `json:"threads"`

	// OpenFiles is the open file-descriptor count. Zero when procfs is
	// unavailable.
	OpenFiles int `json:"openFiles"`

	// SampledAt is when the sample was taken.
	SampledAt time.Time `json:"sampledAt"`
}

// ViolationFunc is called from the background loop when a sample exceeds a
// configured ceiling.
type ViolationFunc func(usage Usage, violations []string)

// Monitor samples process resource usage and checks it against limits.
type Monitor struct {
	config  Config
	logger  observability.Logger
	metrics *Metrics

	proc        procfs.Proc
	procOK      bool
	onViolation ViolationFunc

	mu          sync.Mutex
	last        Usage
	lastCPUTime float64
	lastSample  time.Time

	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option is a functional option for configuring the Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

// WithViolationCallback sets the callback invoked when the background loop
// observes a violation.
func WithViolationCallback(fn ViolationFunc) Option {
	return func(m *Monitor) {
		m.onViolation = fn
	}
}

// NewMonitor creates a resource monitor and starts its background sampling
// loop.
func NewMonitor(config Config, opts ...Option) (*Monitor, error) {
	config.Validate()

	m := &Monitor{
		config: config,
		logger: observability.NopLogger(),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if proc, err := procfs.Self(); err == nil {
		m.proc = proc
		m.procOK = true
	} else {
		m.logger.Warn("procfs unavailable, falling back to runtime counters",
			observability.Error(err))
	}

	if config.EnforceRlimits {
		if err := m.EnforceLimits(); err != nil {
			m.logger.Warn("failed to apply resource rlimits", observability.Error(err))
		}
	}

	go m.sampleLoop()
	return m, nil
}

// Snapshot samples current usage and returns it.
func (m *Monitor) Snapshot() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sampleLocked()
}

// sampleLocked takes a sample and updates the CPU accounting baseline.
func (m *Monitor) sampleLocked() Usage {
	now := time.Now()
	usage := Usage{
		Goroutines: runtime.NumGoroutine(),
		SampledAt:  now,
	}

	sampled := false
	if m.procOK {
		if stat, err := m.proc.Stat(); err == nil {
			usage.MemoryBytes = uint64(stat.ResidentMemory()) //nolint:gosec // RSS is non-negative
			usage.Threads = stat.NumThreads

			cpuTime := stat.CPUTime()
			if !m.lastSample.IsZero() {
				elapsed := now.Sub(m.lastSample).Seconds()
				if elapsed > 0 {
					usage.CPUPercent = (cpuTime - m.lastCPUTime) / elapsed * 100
				}
			}
			m.lastCPUTime = cpuTime
			sampled = true
		}
		if fds, err := m.proc.FileDescriptorsLen(); err == nil {
			usage.OpenFiles = fds
		}
	}

	if !sampled {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		usage.MemoryBytes = ms.HeapInuse + ms.StackInuse
	}

	m.lastSample = now
	m.last = usage
	m.metrics.RecordUsage(usage)
	return usage
}

// Check samples usage and returns whether all configured ceilings hold,
// with one violation string per exceeded ceiling.
func (m *Monitor) Check() (bool, []string) {
	if !m.config.Enabled {
		return true, nil
	}

	usage := m.Snapshot()
	violations := m.evaluate(usage)
	if len(violations) == 0 {
		return true, nil
	}

	for range violations {
		m.metrics.RecordViolation()
	}
	return false, violations
}

// CheckErr is Check returning a typed error on violation.
func (m *Monitor) CheckErr() error {
	ok, violations := m.Check()
	if ok {
		return nil
	}
	return util.NewResourceExhaustedError(violations)
}

// evaluate compares a sample against the configured ceilings.
func (m *Monitor) evaluate(usage Usage) []string {
	var violations []string

	if m.config.MaxMemoryBytes > 0 && usage.MemoryBytes > m.config.MaxMemoryBytes {
		violations = append(violations, fmt.Sprintf(
			"memory %d bytes exceeds limit %d", usage.MemoryBytes, m.config.MaxMemoryBytes))
	}
	if m.config.MaxCPUPercent > 0 && usage.CPUPercent > m.config.MaxCPUPercent {
		violations = append(violations, fmt.Sprintf(
			"cpu %.1f%% exceeds limit %.1f%%", usage.CPUPercent, m.config.MaxCPUPercent))
	}
	if m.config.MaxGoroutines > 0 && usage.Goroutines > m.config.MaxGoroutines {
		violations = append(violations, fmt.Sprintf(
			"goroutines %d exceeds limit %d", usage.Goroutines, m.config.MaxGoroutines))
	}
	if m.config.MaxThreads > 0 && usage.Threads > m.config.MaxThreads {
		violations = append(violations, fmt.Sprintf(
			"threads %d exceeds limit %d", usage.Threads, m.config.MaxThreads))
	}
	if m.config.MaxOpenFiles > 0 && usage.OpenFiles > m.config.MaxOpenFiles {
		violations = append(violations, fmt.Sprintf(
			"open files %d exceeds limit %d", usage.OpenFiles, m.config.MaxOpenFiles))
	}
	return violations
}

// Last returns the most recent sample without taking a new one.
func (m *Monitor) Last() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// sampleLoop samples on the configured interval and reports violations.
func (m *Monitor) sampleLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !m.config.Enabled {
				continue
			}
			m.mu.Lock()
			usage := m.sampleLocked()
			m.mu.Unlock()

			violations := m.evaluate(usage)
			if len(violations) == 0 {
				continue
			}

			for range violations {
				m.metrics.RecordViolation()
			}
			m.logger.Warn("resource limits exceeded",
				observability.Strings("violations", violations),
				observability.Uint64("memory_bytes", usage.MemoryBytes),
				observability.Int("goroutines", usage.Goroutines),
			)
			if m.onViolation != nil {
				m.onViolation(usage, violations)
			}
		case <-m.stopCh:
			return
		}
	}
}

// EnforceLimits applies the configured memory and file-descriptor ceilings
// as OS resource limits, best effort. Platforms without rlimit support
// return nil.
func (m *Monitor) EnforceLimits() error {
	return applyRlimits(m.config)
}

// Close stops the background sampling loop.
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		<-m.done
	})
	return nil
}
