package audit

import (
	"regexp"
	"strings"
)

// redactedValue replaces redacted content.
const redactedValue = "[REDACTED]"

// piiPattern pairs a detector with its replacement.
type piiPattern struct {
	re      *regexp.Regexp
	replace func(match string) string
}

// fixed returns a replacer that always yields the same placeholder.
func fixed(placeholder string) func(string) string {
	return func(string) string { return placeholder }
}

// piiPatterns are applied, in order, to messages and string metadata values.
var piiPatterns = []piiPattern{
	{regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), fixed("[EMAIL]")},
	{regexp.MustCompile(`\b\d{3}[-.]?\d{2}[-.]?\d{4}\b`), fixed("[SSN]")},
	{regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), fixed("[CARD]")},
	{regexp.MustCompile(`(?:\+\d{1,3}[-. ]?)?\(?\d{3}\)?[-. ]\d{3}[-. ]?\d{4}\b`), fixed("[PHONE]")},
	// IP addresses keep the first two octets for network-level debugging.
	{regexp.MustCompile(`\b(\d{1,3}\.\d{1,3})\.\d{1,3}\.\d{1,3}\b`), maskIP},
	{regexp.MustCompile(`\b(?:sk|pk|api|key|tok)[-_][A-Za-z0-9]{16,}\b`), fixed("[API_KEY]")},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*\S+`), fixed("password=" + redactedValue)},
}

// ipPrefixRe extracts the first two octets for partial masking.
var ipPrefixRe = regexp.MustCompile(`^(\d{1,3}\.\d{1,3})\.`)

// maskIP keeps the first two octets of an IPv4 address.
func maskIP(match string) string {
	if m := ipPrefixRe.FindStringSubmatch(match); m != nil {
		return m[1] + ".x.x"
	}
	return "[IP]"
}

// sensitiveKeySubstrings force full redaction of a metadata value when the
// key contains any of them, regardless of the value's type.
var sensitiveKeySubstrings = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"authorization", "credential", "cookie", "ssn", "private",
}

// Redactor removes PII from event messages and metadata.
type Redactor struct {
	keySubstrings []string
}

// NewRedactor creates a Redactor with the default sensitive key list plus
// any extras.
func NewRedactor(extraKeys ...string) *Redactor {
	keys := make([]string, 0, len(sensitiveKeySubstrings)+len(extraKeys))
	keys = append(keys, sensitiveKeySubstrings...)
	for _, k := range extraKeys {
		keys = append(keys, strings.ToLower(k))
	}
	return &Redactor{keySubstrings: keys}
}

// RedactString applies every PII pattern to s. It returns the redacted
// string and whether anything changed.
func (r *Redactor) RedactString(s string) (string, bool) {
	changed := false
	for _, p := range piiPatterns {
		s = p.re.ReplaceAllStringFunc(s, func(m string) string {
			changed = true
			return p.replace(m)
		})
	}
	return s, changed
}

// RedactEvent redacts the event in place and returns the number of
// redactions applied.
func (r *Redactor) RedactEvent(e *Event) int {
	count := 0

	if msg, changed := r.RedactString(e.Message); changed {
		e.Message = msg
		count++
	}
	if masked := maskIPValue(e.IPAddress); masked != e.IPAddress {
		e.IPAddress = masked
		count++
	}
	count += r.redactMap(e.Metadata)
	return count
}

// redactMap recursively redacts a metadata map.
func (r *Redactor) redactMap(m map[string]any) int {
	count := 0
	for key, value := range m {
		if r.isSensitiveKey(key) {
			m[key] = redactedValue
			count++
			continue
		}

		switch v := value.(type) {
		case string:
			if red, changed := r.RedactString(v); changed {
				m[key] = red
				count++
			}
		case map[string]any:
			count += r.redactMap(v)
		case []any:
			for i, item := range v {
				if s, ok := item.(string); ok {
					if red, changed := r.RedactString(s); changed {
						v[i] = red
						count++
					}
				}
			}
		}
	}
	return count
}

// isSensitiveKey reports whether a metadata key forces full redaction.
func (r *Redactor) isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sub := range r.keySubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// maskIPValue partially masks a bare IPv4 address value.
func maskIPValue(addr string) string {
	if addr == "" {
		return addr
	}
	if m := ipPrefixRe.FindStringSubmatch(addr); m != nil {
		return m[1] + ".x.x"
	}
	return addr
}
