package audit

import (
	"context"
	"sync/atomic"
)

// AtomicLogger is a Logger whose backing implementation can be swapped at
// runtime without interrupting callers. Configuration reloads swap in a
// freshly built logger and close the old one.
type AtomicLogger struct {
	inner atomic.Pointer[loggerBox]
}

// loggerBox keeps the interface value addressable for atomic.Pointer.
type loggerBox struct {
	logger Logger
}

// NewAtomicLogger creates an AtomicLogger wrapping the given Logger.
func NewAtomicLogger(logger Logger) *AtomicLogger {
	a := &AtomicLogger{}
	a.inner.Store(&loggerBox{logger: logger})
	return a
}

// Swap replaces the backing logger and returns the previous one. The caller
// is responsible for closing the returned logger.
func (a *AtomicLogger) Swap(logger Logger) Logger {
	old := a.inner.Swap(&loggerBox{logger: logger})
	return old.logger
}

// Current returns the backing logger.
func (a *AtomicLogger) Current() Logger {
	return a.inner.Load().logger
}

// LogEvent implements Logger.
func (a *AtomicLogger) LogEvent(ctx context.Context, event *Event) {
	a.Current().LogEvent(ctx, event)
}

// Search implements Logger.
func (a *AtomicLogger) Search(filter Filter) []*Event {
	return a.Current().Search(filter)
}

// Stats implements Logger.
func (a *AtomicLogger) Stats() Stats {
	return a.Current().Stats()
}

// Flush implements Logger.
func (a *AtomicLogger) Flush() error {
	return a.Current().Flush()
}

// Close implements Logger.
func (a *AtomicLogger) Close() error {
	return a.Current().Close()
}
