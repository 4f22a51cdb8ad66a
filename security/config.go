package security

import "time"

// Config holds manager policy configuration. Subsystem configurations live
// with their packages; this only covers how the Manager reacts to their
// verdicts.
type Config struct {
	// FailOpen downgrades rate-limit and resource denials to degraded
	// successes instead of returning errors. Validation failures still
	// deny unless AllowInvalidInput is also set.
	FailOpen bool `yaml:"failOpen" json:"failOpen"`

	// AllowInvalidInput lets invalid input through, sanitized, under
	// FailOpen. Without FailOpen it has no effect.
	AllowInvalidInput bool `yaml:"allowInvalidInput" json:"allowInvalidInput"`

	// KillOnResourceViolation terminates the process when a resource
	// ceiling is exceeded. A drastic brownout guard for batch workloads;
	// leave off in servers.
	KillOnResourceViolation bool `yaml:"killOnResourceViolation" json:"killOnResourceViolation"`

	// BreakerThreshold is the consecutive-failure threshold for the
	// manager's named breakers.
	BreakerThreshold int `yaml:"breakerThreshold" json:"breakerThreshold"`

	// BreakerTimeout is the open-state duration for the manager's named
	// breakers.
	BreakerTimeout time.Duration `yaml:"breakerTimeout" json:"breakerTimeout"`

	// MonitorInterval is the period of the background anomaly and health
	// loop.
	MonitorInterval time.Duration `yaml:"monitorInterval" json:"monitorInterval"`

	// AnomalyFailureRate is the rolling failure-rate fraction above which
	// the background loop logs an anomaly warning.
	AnomalyFailureRate float64 `yaml:"anomalyFailureRate" json:"anomalyFailureRate"`

	// AnomalyViolationSpike is the per-interval violation count above
	// which the background loop logs an anomaly warning.
	AnomalyViolationSpike int64 `yaml:"anomalyViolationSpike" json:"anomalyViolationSpike"`
}

// DefaultConfig returns the default manager policy.
func DefaultConfig() Config {
	return Config{
		FailOpen:              false,
		BreakerThreshold:      5,
		BreakerTimeout:        30 * time.Second,
		MonitorInterval:       30 * time.Second,
		AnomalyFailureRate:    0.5,
		AnomalyViolationSpike: 100,
	}
}

// Validate normalizes the configuration.
func (c *Config) Validate() {
	if c.BreakerThreshold < 1 {
		c.BreakerThreshold = 5
	}
	if c.BreakerTimeout < time.Millisecond {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 30 * time.Second
	}
	if c.AnomalyFailureRate <= 0 || c.AnomalyFailureRate > 1 {
		c.AnomalyFailureRate = 0.5
	}
	if c.AnomalyViolationSpike <= 0 {
		c.AnomalyViolationSpike = 100
	}
}
