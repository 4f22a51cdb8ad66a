package audit

import "time"

// Format selects the flush serialization.
type Format string

// Output formats.
const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config contains audit logger configuration.
type Config struct {
	// Enabled controls whether events are recorded at all. When false,
	// LogEvent is a no-op.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Output is the audit log file path. Empty disables file output.
	Output string `yaml:"output" json:"output"`

	// Format is the flush serialization, json or text.
	Format Format `yaml:"format" json:"format"`

	// Console mirrors flushed events to the structured logger.
	Console bool `yaml:"console" json:"console"`

	// MinSeverity drops events below this severity before buffering.
	MinSeverity Severity `yaml:"minSeverity" json:"minSeverity"`

	// MaxEventsPerSecond is the sustained event ceiling. Events beyond it
	// are counted as dropped, never blocked on.
	MaxEventsPerSecond int `yaml:"maxEventsPerSecond" json:"maxEventsPerSecond"`

	// BufferSize is the in-memory event window. A full buffer triggers an
	// immediate flush.
	BufferSize int `yaml:"bufferSize" json:"bufferSize"`

	// FlushInterval is the background flush period.
	FlushInterval time.Duration `yaml:"flushInterval" json:"flushInterval"`

	// Redact enables PII redaction before signing.
	Redact bool `yaml:"redact" json:"redact"`

	// RedactFields are extra metadata key substrings to fully redact.
	RedactFields []string `yaml:"redactFields" json:"redactFields"`

	// Sign enables HMAC signing of events.
	Sign bool `yaml:"sign" json:"sign"`

	// MaxFileSizeMB is the rotation threshold for the audit file.
	MaxFileSizeMB int `yaml:"maxFileSizeMB" json:"maxFileSizeMB"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `yaml:"maxBackups" json:"maxBackups"`

	// MaxAgeDays is the maximum age of rotated files in days.
	MaxAgeDays int `yaml:"maxAgeDays" json:"maxAgeDays"`

	// Compress gzips rotated files.
	Compress bool `yaml:"compress" json:"compress"`
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Format:             FormatJSON,
		MinSeverity:        SeverityInfo,
		MaxEventsPerSecond: 1000,
		BufferSize:         1000,
		FlushInterval:      5 * time.Second,
		Redact:             true,
		Sign:               true,
		MaxFileSizeMB:      100,
		MaxBackups:         10,
		MaxAgeDays:         30,
		Compress:           true,
	}
}

// Validate normalizes the configuration.
func (c *Config) Validate() {
	if c.Format != FormatJSON && c.Format != FormatText {
		c.Format = FormatJSON
	}
	if _, ok := severityRank[c.MinSeverity]; !ok {
		c.MinSeverity = SeverityInfo
	}
	if c.MaxEventsPerSecond <= 0 {
		c.MaxEventsPerSecond = 1000
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.MaxFileSizeMB <= 0 {
		c.MaxFileSizeMB = 100
	}
	if c.MaxBackups < 0 {
		c.MaxBackups = 10
	}
	if c.MaxAgeDays < 0 {
		c.MaxAgeDays = 30
	}
}
