// Package resource monitors and enforces process resource limits. A Monitor
// samples memory, CPU, goroutine, thread, and file-descriptor usage from the
// proc filesystem, falling back to runtime counters where procfs is not
// available, and reports violations against configured ceilings.
package resource

import "time"

// Config holds resource monitor configuration.
type Config struct {
	// Enabled controls whether resource checks are performed. When false,
	// Check always passes.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MaxMemoryBytes is the resident-set ceiling. Zero disables the check.
	MaxMemoryBytes uint64 `yaml:"maxMemoryBytes" json:"maxMemoryBytes"`

	// MaxCPUPercent is the CPU usage ceiling over the sampling interval,
	// as a percentage of one core. Zero disables the check.
	MaxCPUPercent float64 `yaml:"maxCPUPercent" json:"maxCPUPercent"`

	// MaxGoroutines is the goroutine-count ceiling. Zero disables the check.
	MaxGoroutines int `yaml:"maxGoroutines" json:"maxGoroutines"`

	// MaxThreads is the OS-thread ceiling. Zero disables the check.
	MaxThreads int `yaml:"maxThreads" json:"maxThreads"`

	// MaxOpenFiles is the file-descriptor ceiling. Zero disables the check.
	MaxOpenFiles int `yaml:"maxOpenFiles" json:"maxOpenFiles"`

	// CheckInterval is the background sampling period.
	CheckInterval time.Duration `yaml:"checkInterval" json:"checkInterval"`

	// EnforceRlimits applies MaxMemoryBytes and MaxOpenFiles as OS rlimits
	// at construction, best effort, on platforms that support it.
	EnforceRlimits bool `yaml:"enforceRlimits" json:"enforceRlimits"`
}

// DefaultConfig returns the default resource configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		MaxMemoryBytes: 1 << 30, // 1 GiB
		MaxCPUPercent:  0,
		MaxGoroutines:  10000,
		CheckInterval:  10 * time.Second,
	}
}

// Validate normalizes the configuration.
func (c *Config) Validate() {
	if c.MaxCPUPercent < 0 {
		c.MaxCPUPercent = 0
	}
	if c.MaxGoroutines < 0 {
		c.MaxGoroutines = 0
	}
	if c.MaxThreads < 0 {
		c.MaxThreads = 0
	}
	if c.MaxOpenFiles < 0 {
		c.MaxOpenFiles = 0
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
}
