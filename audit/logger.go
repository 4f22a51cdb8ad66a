package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vyrodovalexey/guardrail/keys"
	"github.com/vyrodovalexey/guardrail/observability"
	"github.com/vyrodovalexey/guardrail/util"
)

// Logger records audit events.
type Logger interface {
	// LogEvent records an event. It never blocks on the rate ceiling;
	// events beyond the ceiling are counted as dropped.
	LogEvent(ctx context.Context, event *Event)

	// Search returns buffered events matching the filter, newest first.
	Search(filter Filter) []*Event

	// Stats returns a snapshot of logger counters.
	Stats() Stats

	// Flush writes all pending events to the configured outputs.
	Flush() error

	// Close flushes pending events and stops the background flusher.
	Close() error
}

// Filter selects events in Search.
type Filter struct {
	// Type matches the event type exactly. Empty matches all.
	Type EventType

	// MinSeverity matches events at least this severe. Empty matches all.
	MinSeverity Severity

	// Operation matches the operation name exactly. Empty matches all.
	Operation string

	// ClientID matches the client exactly. Empty matches all.
	ClientID string

	// CorrelationID matches the correlation ID exactly. Empty matches all.
	CorrelationID string

	// Since excludes events before this time when non-zero.
	Since time.Time

	// Limit caps the number of returned events. Zero means no cap.
	Limit int
}

// Stats is a snapshot of logger counters.
type Stats struct {
	// Logged is the number of events accepted into the buffer.
	Logged uint64 `json:"logged"`

	// Dropped is the number of events rejected by the rate ceiling.
	Dropped uint64 `json:"dropped"`

	// Redactions is the number of redactions applied.
	Redactions uint64 `json:"redactions"`

	// Flushes is the number of buffer flushes.
	Flushes uint64 `json:"flushes"`

	// Buffered is the number of events awaiting flush.
	Buffered int `json:"buffered"`
}

// auditLogger is the default Logger implementation.
type auditLogger struct {
	config   Config
	log      observability.Logger
	metrics  *Metrics
	redactor *Redactor
	signer   *Signer
	ceiling  *rate.Limiter

	mu      sync.Mutex
	pending []*Event
	window  []*Event
	stats   Stats

	out       io.WriteCloser
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Logger.
type Option func(*auditLogger)

// WithLogger sets the structured logger used for console mirroring and
// internal diagnostics.
func WithLogger(log observability.Logger) Option {
	return func(l *auditLogger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(l *auditLogger) {
		l.metrics = m
	}
}

// WithWriter replaces the file output with an arbitrary writer. Intended
// for tests and embedding applications that own the sink.
func WithWriter(w io.Writer) Option {
	return func(l *auditLogger) {
		l.out = nopWriteCloser{w}
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewLogger creates an audit Logger. The key manager is required when
// signing is enabled.
func NewLogger(config Config, km keys.Manager, opts ...Option) (Logger, error) {
	config.Validate()

	if config.Sign && km == nil {
		return nil, fmt.Errorf("%w: audit signing requires a key manager", util.ErrConfigInvalid)
	}

	l := &auditLogger{
		config:   config,
		log:      observability.NopLogger(),
		redactor: NewRedactor(config.RedactFields...),
		ceiling:  rate.NewLimiter(rate.Limit(config.MaxEventsPerSecond), config.MaxEventsPerSecond),
		pending:  make([]*Event, 0, config.BufferSize),
		window:   make([]*Event, 0, config.BufferSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if config.Sign {
		l.signer = NewSigner(km)
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.out == nil && config.Output != "" {
		l.out = &lumberjack.Logger{
			Filename:   config.Output,
			MaxSize:    config.MaxFileSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		}
	}

	go l.flushLoop()
	return l, nil
}

// LogEvent implements Logger.
func (l *auditLogger) LogEvent(ctx context.Context, event *Event) {
	if !l.config.Enabled || event == nil {
		return
	}
	if !event.Severity.AtLeast(l.config.MinSeverity) {
		return
	}
	if event.CorrelationID == "" {
		event.CorrelationID = observability.CorrelationIDFromContext(ctx)
	}

	if !l.ceiling.Allow() {
		l.mu.Lock()
		l.stats.Dropped++
		l.mu.Unlock()
		l.metrics.RecordDropped()
		return
	}

	if l.config.Redact {
		if n := l.redactor.RedactEvent(event); n > 0 {
			l.mu.Lock()
			l.stats.Redactions += uint64(n)
			l.mu.Unlock()
			l.metrics.RecordRedactions(n)
		}
	}

	if l.signer != nil {
		if err := l.signer.Sign(event); err != nil {
			l.log.Error("failed to sign audit event",
				observability.String("event_id", event.ID),
				observability.Error(err))
		}
	}

	l.mu.Lock()
	l.pending = append(l.pending, event)
	l.window = append(l.window, event)
	if len(l.window) > l.config.BufferSize {
		l.window = l.window[len(l.window)-l.config.BufferSize:]
	}
	l.stats.Logged++
	full := len(l.pending) >= l.config.BufferSize
	buffered := len(l.pending)
	l.mu.Unlock()

	l.metrics.RecordEvent(event.Type, event.Severity)
	l.metrics.SetBuffered(buffered)

	if full {
		if err := l.Flush(); err != nil {
			l.log.Error("failed to flush audit buffer", observability.Error(err))
		}
	}
}

// Search implements Logger. It inspects the retained window of recent
// events, which survives flushes up to the configured buffer size.
func (l *auditLogger) Search(filter Filter) []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*Event
	for i := len(l.window) - 1; i >= 0; i-- {
		e := l.window[i]
		if !filter.matches(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// matches reports whether the event passes the filter.
func (f Filter) matches(e *Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.MinSeverity != "" && !e.Severity.AtLeast(f.MinSeverity) {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.ClientID != "" && e.ClientID != f.ClientID {
		return false
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Stats implements Logger.
func (l *auditLogger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stats
	s.Buffered = len(l.pending)
	return s
}

// Flush implements Logger. The pending slice is swapped out under the lock
// and serialized outside it so slow sinks never stall LogEvent.
func (l *auditLogger) Flush() error {
	l.mu.Lock()
	events := l.pending
	l.pending = make([]*Event, 0, l.config.BufferSize)
	l.stats.Flushes++
	l.mu.Unlock()

	l.metrics.RecordFlush(0)
	if len(events) == 0 {
		return nil
	}

	var firstErr error
	for _, e := range events {
		if l.config.Console {
			l.mirror(e)
		}
		if l.out == nil {
			continue
		}
		line, err := l.render(e)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, err := l.out.Write(append(line, '\n')); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to write audit event: %w", err)
		}
	}
	return firstErr
}

// render serializes one event per the configured format.
func (l *auditLogger) render(e *Event) ([]byte, error) {
	if l.config.Format == FormatText {
		var b strings.Builder
		b.WriteString(e.Timestamp.UTC().Format(time.RFC3339Nano))
		b.WriteString(" [")
		b.WriteString(strings.ToUpper(string(e.Severity)))
		b.WriteString("] ")
		b.WriteString(string(e.Type))
		b.WriteString(": ")
		b.WriteString(e.Message)
		if e.Operation != "" {
			b.WriteString(" operation=")
			b.WriteString(e.Operation)
		}
		if e.ClientID != "" {
			b.WriteString(" client=")
			b.WriteString(e.ClientID)
		}
		if e.Result != "" {
			b.WriteString(" result=")
			b.WriteString(e.Result)
		}
		return []byte(b.String()), nil
	}

	line, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit event: %w", err)
	}
	return line, nil
}

// mirror writes one event to the structured logger.
func (l *auditLogger) mirror(e *Event) {
	fields := []observability.Field{
		observability.String("audit_id", e.ID),
		observability.String("type", string(e.Type)),
		observability.String("severity", string(e.Severity)),
	}
	if e.Operation != "" {
		fields = append(fields, observability.String("operation", e.Operation))
	}
	if e.CorrelationID != "" {
		fields = append(fields, observability.String("correlation_id", e.CorrelationID))
	}

	switch e.Severity {
	case SeverityError, SeverityCritical:
		l.log.Error(e.Message, fields...)
	case SeverityWarning:
		l.log.Warn(e.Message, fields...)
	default:
		l.log.Info(e.Message, fields...)
	}
}

// flushLoop flushes the buffer on the configured interval.
func (l *auditLogger) flushLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := l.Flush(); err != nil {
				l.log.Error("failed to flush audit buffer", observability.Error(err))
			}
		case <-l.stopCh:
			return
		}
	}
}

// Close implements Logger.
func (l *auditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		<-l.done
		err = l.Flush()
		if l.out != nil {
			if cerr := l.out.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}
