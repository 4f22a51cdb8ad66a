package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateContent_Valid(t *testing.T) {
	v := New(nil)

	result := v.ValidateContent("hello world\nplain text content")
	assert.True(t, result.Valid)
	assert.Empty(t, result.Reasons)
	assert.Equal(t, "hello world\nplain text content", result.Sanitized)
}

func TestValidateContent_SizeLimit(t *testing.T) {
	v := New(&Config{MaxContentBytes: 10})

	result := v.ValidateContent("this is definitely more than ten bytes")
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Reasons)
	assert.Contains(t, result.Reasons[0], "exceeds limit")
}

func TestValidateContent_NullBytes(t *testing.T) {
	v := New(nil)

	result := v.ValidateContent("before\x00after")
	assert.False(t, result.Valid)
	assert.Contains(t, strings.Join(result.Reasons, ";"), "null bytes")
}

func TestValidateContent_InvalidUTF8(t *testing.T) {
	v := New(nil)

	result := v.ValidateContent("ok\xff\xfe")
	assert.False(t, result.Valid)
	assert.Contains(t, strings.Join(result.Reasons, ";"), "UTF-8")
}

func TestValidateContent_MaliciousPatterns(t *testing.T) {
	v := New(nil)

	tests := []struct {
		name    string
		content string
	}{
		{"script tag", "hello <script>alert(1)</script>"},
		{"javascript url", "click javascript:alert(1)"},
		{"event handler", `<img onerror=alert(1)>`},
		{"path traversal", "open ../../../../etc/passwd"},
		{"template injection", "{{constructor.constructor('alert(1)')()}}"},
		{"shell injection", "name; rm -rf /tmp/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateContent(tt.content)
			assert.False(t, result.Valid, "content %q should be rejected", tt.content)
		})
	}
}

func TestValidateContent_PatternsDisabled(t *testing.T) {
	v := New(&Config{CheckPatterns: false})

	result := v.ValidateContent("hello <script>alert(1)</script>")
	assert.True(t, result.Valid)
}

func TestValidateContent_Entropy(t *testing.T) {
	v := New(nil)

	// Repetitive text has low entropy
	low := strings.Repeat("abcabcabc ", 20)
	assert.True(t, v.ValidateContent(low).Valid)

	// All 256 byte values, but short content skips the entropy check
	v2 := New(&Config{MaxEntropy: 3.0, CheckEntropy: true})
	short := "zxcvbnm"
	assert.True(t, v2.ValidateContent(short).Valid)

	// Long high-entropy content trips the ceiling; every printable ASCII
	// character equally often gives ~6.6 bits per byte
	var b strings.Builder
	for i := 0; i < 10; i++ {
		for c := byte(33); c < 127; c++ {
			b.WriteByte(c)
			b.WriteByte(' ')
		}
	}
	result := New(&Config{MaxEntropy: 3.0, CheckEntropy: true, CheckPatterns: false}).
		ValidateContent(b.String())
	assert.False(t, result.Valid)
	assert.Contains(t, strings.Join(result.Reasons, ";"), "entropy")
}

func TestValidateContent_LineLength(t *testing.T) {
	v := New(&Config{MaxLineLength: 10})

	result := v.ValidateContent("short\n" + strings.Repeat("x", 20))
	assert.False(t, result.Valid)
	assert.Contains(t, strings.Join(result.Reasons, ";"), "line length")

	assert.True(t, v.ValidateContent("short\nlines\nonly").Valid)
}

func TestValidateMetadata(t *testing.T) {
	v := New(&Config{MaxKeyLength: 8, MaxMetadataBytes: 64})

	result := v.ValidateMetadata(map[string]string{"key": "value"})
	assert.True(t, result.Valid)

	result = v.ValidateMetadata(map[string]string{"a-very-long-key-name": "v"})
	assert.False(t, result.Valid)

	result = v.ValidateMetadata(map[string]string{"k": strings.Repeat("v", 100)})
	assert.False(t, result.Valid)

	result = v.ValidateMetadata(map[string]string{"k": "\xff\xfe"})
	assert.False(t, result.Valid)
}

func TestSanitize(t *testing.T) {
	v := New(nil)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "a\r\nb", "a\nb"},
		{"bare cr", "a\rb", "a\nb"},
		{"control chars", "a\x01\x02b", "ab"},
		{"keeps tab and newline", "a\tb\nc", "a\tb\nc"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Sanitize(tt.in))
		})
	}
}

func TestShannonEntropy(t *testing.T) {
	assert.Equal(t, 0.0, shannonEntropy(""))
	assert.Equal(t, 0.0, shannonEntropy("aaaa"))
	assert.InDelta(t, 1.0, shannonEntropy("abab"), 0.001)
}

func TestConfigValidate_Normalizes(t *testing.T) {
	c := &Config{MaxContentBytes: -1, MaxEntropy: -2}
	c.Validate()
	assert.Equal(t, DefaultMaxContentBytes, c.MaxContentBytes)
	assert.Equal(t, DefaultMaxEntropy, c.MaxEntropy)
}
