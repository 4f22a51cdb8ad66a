// Package security composes validation, rate limiting, resource
// enforcement, caching, audit logging, and circuit breaking behind a single
// Manager, and provides a staged execution pipeline for protected
// operations.
package security

import (
	"sync/atomic"
	"time"
)

// Context carries the identity and timing of one protected operation from
// Begin to End.
type Context struct {
	correlationID string
	operation     string
	resource      string
	userID        string
	clientID      string
	startTime     time.Time

	degraded atomic.Bool
}

// CorrelationID returns the operation's correlation ID.
func (c *Context) CorrelationID() string {
	return c.correlationID
}

// Operation returns the operation name.
func (c *Context) Operation() string {
	return c.operation
}

// Resource returns the resource being operated on.
func (c *Context) Resource() string {
	return c.resource
}

// UserID returns the acting user.
func (c *Context) UserID() string {
	return c.userID
}

// ClientID returns the acting client.
func (c *Context) ClientID() string {
	return c.clientID
}

// StartTime returns when the operation began.
func (c *Context) StartTime() time.Time {
	return c.startTime
}

// Elapsed returns the time since the operation began.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

// Degraded reports whether a fail-open policy downgraded a failed check
// during this operation.
func (c *Context) Degraded() bool {
	return c.degraded.Load()
}

// markDegraded records a fail-open downgrade.
func (c *Context) markDegraded() {
	c.degraded.Store(true)
}
