// Package audit provides tamper-evident audit logging for security-relevant
// events.
//
// Events are PII-redacted, rate-ceilinged over a one-second window, signed
// with an HMAC over a canonical serialization, buffered in a bounded ring,
// and flushed to a rotating file and optionally the console. Search inspects
// an in-process window of recent events, capped at the buffer size; it is a
// debugging aid, not a durable query surface.
//
// # Usage
//
//	logger, err := audit.NewLogger(audit.DefaultConfig(), km)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Close()
//
//	logger.LogEvent(ctx, audit.NewEvent(audit.EventTypeAccess, audit.SeverityInfo, "operation started").
//	    WithOperation("analyze").
//	    WithClientID("client-1"))
package audit
