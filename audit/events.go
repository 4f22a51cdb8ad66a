package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

// Event types.
const (
	EventTypeAccess    EventType = "access"
	EventTypeAuth      EventType = "auth"
	EventTypeDataOp    EventType = "data_op"
	EventTypeViolation EventType = "violation"
	EventTypeSystem    EventType = "system"
	EventTypeResource  EventType = "resource"
)

// Severity represents the severity of an audit event.
type Severity string

// Severities, ordered from least to most severe.
const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for filtering.
var severityRank = map[Severity]int{
	SeverityDebug:    0,
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Event represents an audit event. Once signed, any field mutation makes
// re-verification fail.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Severity is the event severity.
	Severity Severity `json:"severity"`

	// Message is the human-readable message, post-redaction.
	Message string `json:"message"`

	// CorrelationID groups events belonging to one protected operation.
	CorrelationID string `json:"correlation_id,omitempty"`

	// UserID is the acting user, if known.
	UserID string `json:"user_id,omitempty"`

	// ClientID is the acting client, if known.
	ClientID string `json:"client_id,omitempty"`

	// IPAddress is the client address, partially masked by redaction.
	IPAddress string `json:"ip_address,omitempty"`

	// Operation is the protected operation name.
	Operation string `json:"operation,omitempty"`

	// Resource is the resource being operated on.
	Resource string `json:"resource,omitempty"`

	// Result is the operation outcome (granted, success, error, denied).
	Result string `json:"result,omitempty"`

	// DurationMs is the operation duration in milliseconds.
	DurationMs float64 `json:"duration_ms,omitempty"`

	// Metadata contains additional fields, redacted recursively.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Tags are free-form labels.
	Tags []string `json:"tags,omitempty"`

	// Signature is the hex HMAC over the canonical serialization.
	Signature string `json:"signature,omitempty"`

	// SignatureKeyVersion is the key version the signature was made with.
	SignatureKeyVersion uint32 `json:"signature_key_version,omitempty"`
}

// NewEvent creates a new audit event with defaults.
func NewEvent(eventType EventType, severity Severity, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  severity,
		Message:   message,
	}
}

// WithCorrelationID sets the correlation ID.
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithUserID sets the user ID.
func (e *Event) WithUserID(id string) *Event {
	e.UserID = id
	return e
}

// WithClientID sets the client ID.
func (e *Event) WithClientID(id string) *Event {
	e.ClientID = id
	return e
}

// WithIPAddress sets the client IP address.
func (e *Event) WithIPAddress(addr string) *Event {
	e.IPAddress = addr
	return e
}

// WithOperation sets the operation name.
func (e *Event) WithOperation(op string) *Event {
	e.Operation = op
	return e
}

// WithResource sets the resource.
func (e *Event) WithResource(resource string) *Event {
	e.Resource = resource
	return e
}

// WithResult sets the result.
func (e *Event) WithResult(result string) *Event {
	e.Result = result
	return e
}

// WithDuration sets the duration in milliseconds.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.DurationMs = float64(d) / float64(time.Millisecond)
	return e
}

// WithMetadata adds a metadata field.
func (e *Event) WithMetadata(key string, value any) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// WithTags appends tags.
func (e *Event) WithTags(tags ...string) *Event {
	e.Tags = append(e.Tags, tags...)
	return e
}

// AccessEvent creates an access audit event.
func AccessEvent(operation, resource, result string) *Event {
	return NewEvent(EventTypeAccess, SeverityInfo, "operation "+result).
		WithOperation(operation).
		WithResource(resource).
		WithResult(result)
}

// ViolationEvent creates a security-violation audit event.
func ViolationEvent(operation, message string) *Event {
	return NewEvent(EventTypeViolation, SeverityWarning, message).
		WithOperation(operation).
		WithResult("denied")
}

// SystemEvent creates a system audit event.
func SystemEvent(severity Severity, message string) *Event {
	return NewEvent(EventTypeSystem, severity, message)
}

// ResourceEvent creates a resource audit event.
func ResourceEvent(severity Severity, message string) *Event {
	return NewEvent(EventTypeResource, severity, message)
}
