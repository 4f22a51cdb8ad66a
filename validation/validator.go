// Package validation provides stateless input validation and sanitization
// for untrusted content and metadata before it reaches protected operations.
package validation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Default limits.
const (
	DefaultMaxContentBytes  = 10 * 1024 * 1024
	DefaultMaxMetadataBytes = 64 * 1024
	DefaultMaxKeyLength     = 256
	DefaultMaxEntropy       = 7.5
	DefaultMaxLineLength    = 1 * 1024 * 1024
)

// maliciousPatterns are content shapes that are rejected outright.
// Detection here is advisory hardening, not a substitute for output
// encoding at the consumer.
var maliciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[\s>]`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on(load|error|click|mouseover)\s*=`),
	regexp.MustCompile(`\.\./\.\./`),
	regexp.MustCompile(`(?i)\{\{.*(__|constructor|prototype).*\}\}`),
	regexp.MustCompile("(?i)[;&|`]\\s*(rm|curl|wget|nc|bash|sh)\\s"),
}

// Config holds validator configuration.
type Config struct {
	// MaxContentBytes is the maximum content size in bytes.
	MaxContentBytes int `yaml:"maxContentBytes" json:"maxContentBytes"`

	// MaxMetadataBytes is the maximum total serialized metadata size.
	MaxMetadataBytes int `yaml:"maxMetadataBytes" json:"maxMetadataBytes"`

	// MaxKeyLength is the maximum metadata key length.
	MaxKeyLength int `yaml:"maxKeyLength" json:"maxKeyLength"`

	// MaxEntropy is the Shannon-entropy ceiling in bits per byte.
	// Content above it is likely compressed/encrypted blobs masquerading
	// as text.
	MaxEntropy float64 `yaml:"maxEntropy" json:"maxEntropy"`

	// MaxLineLength is the maximum single-line length, a cheap complexity
	// bound against pathological minified payloads.
	MaxLineLength int `yaml:"maxLineLength" json:"maxLineLength"`

	// CheckPatterns enables the malicious-pattern scan.
	CheckPatterns bool `yaml:"checkPatterns" json:"checkPatterns"`

	// CheckEntropy enables the entropy ceiling.
	CheckEntropy bool `yaml:"checkEntropy" json:"checkEntropy"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		MaxContentBytes:  DefaultMaxContentBytes,
		MaxMetadataBytes: DefaultMaxMetadataBytes,
		MaxKeyLength:     DefaultMaxKeyLength,
		MaxEntropy:       DefaultMaxEntropy,
		MaxLineLength:    DefaultMaxLineLength,
		CheckPatterns:    true,
		CheckEntropy:     true,
	}
}

// Validate normalizes the configuration.
func (c *Config) Validate() {
	if c.MaxContentBytes <= 0 {
		c.MaxContentBytes = DefaultMaxContentBytes
	}
	if c.MaxMetadataBytes <= 0 {
		c.MaxMetadataBytes = DefaultMaxMetadataBytes
	}
	if c.MaxKeyLength <= 0 {
		c.MaxKeyLength = DefaultMaxKeyLength
	}
	if c.MaxEntropy <= 0 {
		c.MaxEntropy = DefaultMaxEntropy
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = DefaultMaxLineLength
	}
}

// Result is the outcome of a validation pass.
type Result struct {
	// Valid indicates whether the input passed every check.
	Valid bool

	// Reasons lists every failed check. Empty when Valid.
	Reasons []string

	// Sanitized is the cleaned content, set even when Valid so callers
	// can always substitute it for the raw input.
	Sanitized string
}

// Validator performs stateless content and metadata checks.
// Denial is a Result, never an error: the caller decides policy.
type Validator struct {
	config *Config
}

// New creates a new Validator.
func New(config *Config) *Validator {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()
	return &Validator{config: config}
}

// ValidateContent checks untrusted content against every configured rule.
func (v *Validator) ValidateContent(content string) Result {
	var reasons []string

	if len(content) > v.config.MaxContentBytes {
		reasons = append(reasons, fmt.Sprintf("content size %d exceeds limit %d",
			len(content), v.config.MaxContentBytes))
	}

	if !utf8.ValidString(content) {
		reasons = append(reasons, "content is not valid UTF-8")
	}

	if strings.ContainsRune(content, 0) {
		reasons = append(reasons, "content contains null bytes")
	}

	if v.config.CheckPatterns {
		for _, p := range maliciousPatterns {
			if p.MatchString(content) {
				reasons = append(reasons, "content matches malicious pattern "+p.String())
				break
			}
		}
	}

	if v.config.CheckEntropy && len(content) >= 64 {
		if e := shannonEntropy(content); e > v.config.MaxEntropy {
			reasons = append(reasons, fmt.Sprintf("content entropy %.2f exceeds limit %.2f",
				e, v.config.MaxEntropy))
		}
	}

	if line := longestLine(content); line > v.config.MaxLineLength {
		reasons = append(reasons, fmt.Sprintf("line length %d exceeds limit %d",
			line, v.config.MaxLineLength))
	}

	return Result{
		Valid:     len(reasons) == 0,
		Reasons:   reasons,
		Sanitized: v.Sanitize(content),
	}
}

// ValidateMetadata checks a metadata map for oversized or malformed entries.
func (v *Validator) ValidateMetadata(metadata map[string]string) Result {
	var reasons []string
	total := 0

	for key, value := range metadata {
		if len(key) > v.config.MaxKeyLength {
			reasons = append(reasons, fmt.Sprintf("metadata key %q exceeds length limit %d",
				truncate(key, 32), v.config.MaxKeyLength))
		}
		if !utf8.ValidString(key) || !utf8.ValidString(value) {
			reasons = append(reasons, fmt.Sprintf("metadata entry %q is not valid UTF-8",
				truncate(key, 32)))
		}
		total += len(key) + len(value)
	}

	if total > v.config.MaxMetadataBytes {
		reasons = append(reasons, fmt.Sprintf("metadata size %d exceeds limit %d",
			total, v.config.MaxMetadataBytes))
	}

	return Result{Valid: len(reasons) == 0, Reasons: reasons}
}

// Sanitize strips control characters (except tab and newline) and
// normalizes line endings.
func (v *Validator) Sanitize(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// shannonEntropy computes byte-level Shannon entropy in bits per byte.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}

	entropy := 0.0
	n := float64(len(s))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// longestLine returns the length of the longest line in content.
func longestLine(s string) int {
	longest := 0
	current := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if current > longest {
				longest = current
			}
			current = 0
			continue
		}
		current++
	}
	if current > longest {
		longest = current
	}
	return longest
}

// truncate shortens a string for inclusion in messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
