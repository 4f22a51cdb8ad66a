// Package config loads, validates, and watches the aggregate guardrail
// configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/guardrail/audit"
	"github.com/vyrodovalexey/guardrail/cache"
	"github.com/vyrodovalexey/guardrail/circuitbreaker"
	"github.com/vyrodovalexey/guardrail/observability"
	"github.com/vyrodovalexey/guardrail/ratelimit"
	"github.com/vyrodovalexey/guardrail/resource"
	"github.com/vyrodovalexey/guardrail/security"
	"github.com/vyrodovalexey/guardrail/validation"
)

// Config aggregates every subsystem configuration.
type Config struct {
	// Logging configures the structured logger.
	Logging observability.LogConfig `yaml:"logging" json:"logging"`

	// Validation configures input validation.
	Validation validation.Config `yaml:"validation" json:"validation"`

	// RateLimit configures the rate limiter.
	RateLimit ratelimit.Config `yaml:"rateLimit" json:"rateLimit"`

	// Cache configures the secure cache.
	Cache cache.Config `yaml:"cache" json:"cache"`

	// Audit configures the audit logger.
	Audit audit.Config `yaml:"audit" json:"audit"`

	// Resource configures the resource monitor.
	Resource resource.Config `yaml:"resource" json:"resource"`

	// Breaker configures default circuit breaker behavior.
	Breaker circuitbreaker.Config `yaml:"breaker" json:"breaker"`

	// Manager configures manager policy.
	Manager security.Config `yaml:"manager" json:"manager"`

	// Pipeline configures the default pipeline stages.
	Pipeline security.StageConfig `yaml:"pipeline" json:"pipeline"`

	// KeyFile is the path of the persisted keyring. Empty uses an
	// in-memory random key.
	KeyFile string `yaml:"keyFile" json:"keyFile"`
}

// DefaultConfig returns a Config with every subsystem at its defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging:    observability.DefaultLogConfig(),
		Validation: *validation.DefaultConfig(),
		RateLimit:  *ratelimit.DefaultConfig(),
		Cache:      *cache.DefaultConfig(),
		Audit:      audit.DefaultConfig(),
		Resource:   resource.DefaultConfig(),
		Breaker:    circuitbreaker.DefaultConfig(),
		Manager:    security.DefaultConfig(),
		Pipeline:   security.DefaultStageConfig(),
	}
}

// Load reads and validates a YAML configuration file. Missing sections fall
// back to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Validate()
	return cfg, nil
}

// Validate normalizes every subsystem configuration.
func (c *Config) Validate() {
	c.Validation.Validate()
	c.RateLimit.Validate()
	c.Cache.Validate()
	c.Audit.Validate()
	c.Resource.Validate()
	c.Breaker.Validate()
	c.Manager.Validate()
}
