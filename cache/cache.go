package cache

import (
	"time"
)

// Default limits.
const (
	DefaultMaxEntries          = 10000
	DefaultMaxPartitionEntries = 1000
	DefaultMaxEntrySize        = 1 * 1024 * 1024
	DefaultMaxMemoryBytes      = 100 * 1024 * 1024
	DefaultMaxKeyLength        = 512
	DefaultTTL                 = 5 * time.Minute
	DefaultMaxTTL              = 24 * time.Hour
)

// DefaultPartition is used when no partition is specified.
const DefaultPartition = "default"

// Config holds configuration for the secure cache.
type Config struct {
	// MaxEntries is the total entry budget.
	MaxEntries int `yaml:"maxEntries" json:"maxEntries"`

	// MaxPartitionEntries is the per-partition entry budget.
	MaxPartitionEntries int `yaml:"maxPartitionEntries" json:"maxPartitionEntries"`

	// MaxEntrySize is the maximum serialized value size in bytes.
	MaxEntrySize int `yaml:"maxEntrySize" json:"maxEntrySize"`

	// MaxMemoryBytes is the total memory budget for stored values.
	MaxMemoryBytes int64 `yaml:"maxMemoryBytes" json:"maxMemoryBytes"`

	// MaxKeyLength is the maximum raw key length.
	MaxKeyLength int `yaml:"maxKeyLength" json:"maxKeyLength"`

	// DefaultTTL applies when Put is called with a zero TTL.
	DefaultTTL time.Duration `yaml:"defaultTTL" json:"defaultTTL"`

	// MaxTTL clamps caller-provided TTLs.
	MaxTTL time.Duration `yaml:"maxTTL" json:"maxTTL"`

	// HMACKeys derives lookup keys via HMAC instead of using raw keys.
	HMACKeys bool `yaml:"hmacKeys" json:"hmacKeys"`

	// Encrypt seals values with AES-GCM under per-entry derived keys.
	Encrypt bool `yaml:"encrypt" json:"encrypt"`

	// KeyEntropy is optional extra material mixed into lookup key
	// derivation, isolating caches that share a key manager.
	KeyEntropy string `yaml:"keyEntropy,omitempty" json:"keyEntropy,omitempty"`

	// CleanupInterval is the background expiry sweep interval.
	CleanupInterval time.Duration `yaml:"cleanupInterval" json:"cleanupInterval"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:          DefaultMaxEntries,
		MaxPartitionEntries: DefaultMaxPartitionEntries,
		MaxEntrySize:        DefaultMaxEntrySize,
		MaxMemoryBytes:      DefaultMaxMemoryBytes,
		MaxKeyLength:        DefaultMaxKeyLength,
		DefaultTTL:          DefaultTTL,
		MaxTTL:              DefaultMaxTTL,
		HMACKeys:            true,
		Encrypt:             false,
		CleanupInterval:     time.Minute,
	}
}

// Validate normalizes the configuration.
func (c *Config) Validate() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.MaxPartitionEntries <= 0 || c.MaxPartitionEntries > c.MaxEntries {
		c.MaxPartitionEntries = min(DefaultMaxPartitionEntries, c.MaxEntries)
	}
	if c.MaxEntrySize <= 0 {
		c.MaxEntrySize = DefaultMaxEntrySize
	}
	if c.MaxMemoryBytes <= 0 {
		c.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	// A single entry must fit inside the memory budget, otherwise a put
	// could evict the whole cache and still land over budget.
	if int64(c.MaxEntrySize) > c.MaxMemoryBytes {
		c.MaxEntrySize = int(c.MaxMemoryBytes)
	}
	if c.MaxKeyLength <= 0 {
		c.MaxKeyLength = DefaultMaxKeyLength
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.MaxTTL < c.DefaultTTL {
		c.MaxTTL = DefaultMaxTTL
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
}

// Stats contains cache statistics.
type Stats struct {
	// Hits is the number of cache hits.
	Hits int64

	// Misses is the number of cache misses.
	Misses int64

	// Entries is the current number of entries.
	Entries int64

	// MemoryBytes is the running total of stored value sizes.
	MemoryBytes int64

	// Evictions is the number of evicted entries.
	Evictions int64

	// Expirations is the number of entries dropped at expiry.
	Expirations int64

	// SecurityViolations counts integrity failures on validated reads.
	SecurityViolations int64

	// Rejected counts puts refused for exceeding size limits.
	Rejected int64
}

// HitRate returns the cache hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}
