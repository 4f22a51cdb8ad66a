// Package circuitbreaker provides named circuit breakers for protected
// operations. Breakers open after a run of consecutive failures, reject
// calls while open, and probe with a single call after the configured
// timeout.
package circuitbreaker

import (
	"time"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// Enabled controls whether breakers are consulted at all.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int `yaml:"failureThreshold" json:"failureThreshold"`

	// Timeout is how long the circuit stays open before a half-open probe
	// is allowed.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// HalfOpenMax is the number of probe calls allowed in half-open state.
	// That many consecutive successes close the circuit.
	HalfOpenMax int `yaml:"halfOpenMax" json:"halfOpenMax"`

	// Interval is the closed-state counter reset period. Zero keeps counts
	// for the life of the closed state.
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		HalfOpenMax:      1,
	}
}

// Validate normalizes the configuration.
func (c *Config) Validate() {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 5
	}
	if c.Timeout < time.Millisecond {
		c.Timeout = 30 * time.Second
	}
	if c.HalfOpenMax < 1 {
		c.HalfOpenMax = 1
	}
	if c.Interval < 0 {
		c.Interval = 0
	}
}
