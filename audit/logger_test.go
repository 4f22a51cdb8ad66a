package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/guardrail/keys"
	"github.com/vyrodovalexey/guardrail/observability"
)

func testKeys(t *testing.T) keys.Manager {
	t.Helper()
	km, err := keys.NewStaticManager([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return km
}

func newTestLogger(t *testing.T, cfg Config, buf *bytes.Buffer) Logger {
	t.Helper()
	l, err := NewLogger(cfg, testKeys(t), WithWriter(buf))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLogger_EventRateCeiling(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.MaxEventsPerSecond = 5
	cfg.Redact = false
	l := newTestLogger(t, cfg, &buf)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		l.LogEvent(ctx, NewEvent(EventTypeAccess, SeverityInfo, "burst"))
	}

	stats := l.Stats()
	assert.Equal(t, uint64(5), stats.Logged, "only the burst allowance is logged")
	assert.Equal(t, uint64(15), stats.Dropped, "the rest are dropped, not blocked")
}

func TestLogger_FlushWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	l := newTestLogger(t, cfg, &buf)

	l.LogEvent(context.Background(), NewEvent(EventTypeAccess, SeverityInfo, "first").
		WithOperation("analyze"))
	l.LogEvent(context.Background(), NewEvent(EventTypeViolation, SeverityWarning, "second"))

	require.NoError(t, l.Flush())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var e Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	assert.Equal(t, "first", e.Message)
	assert.Equal(t, "analyze", e.Operation)
	assert.NotEmpty(t, e.ID)
	assert.NotEmpty(t, e.Signature, "events are signed by default")
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Format = FormatText
	l := newTestLogger(t, cfg, &buf)

	l.LogEvent(context.Background(), NewEvent(EventTypeAccess, SeverityInfo, "hello").
		WithOperation("op").WithResult("success"))
	require.NoError(t, l.Flush())

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "operation=op")
	assert.Contains(t, out, "result=success")
}

func TestLogger_MinSeverityFilter(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.MinSeverity = SeverityWarning
	l := newTestLogger(t, cfg, &buf)

	ctx := context.Background()
	l.LogEvent(ctx, NewEvent(EventTypeSystem, SeverityDebug, "debug"))
	l.LogEvent(ctx, NewEvent(EventTypeSystem, SeverityInfo, "info"))
	l.LogEvent(ctx, NewEvent(EventTypeSystem, SeverityError, "error"))

	assert.Equal(t, uint64(1), l.Stats().Logged)
}

func TestLogger_DisabledIsNoOp(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Enabled = false
	l := newTestLogger(t, cfg, &buf)

	l.LogEvent(context.Background(), NewEvent(EventTypeSystem, SeverityInfo, "ignored"))
	require.NoError(t, l.Flush())

	assert.Zero(t, l.Stats().Logged)
	assert.Empty(t, buf.String())
}

func TestLogger_RedactsBeforeSigning(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	l := newTestLogger(t, cfg, &buf)

	l.LogEvent(context.Background(),
		NewEvent(EventTypeAccess, SeverityInfo, "login by eve@example.com"))
	require.NoError(t, l.Flush())

	out := buf.String()
	assert.NotContains(t, out, "eve@example.com")
	assert.Contains(t, out, "[EMAIL]")
	assert.Greater(t, l.Stats().Redactions, uint64(0))

	// The signature covers the redacted form
	var e Event
	line := strings.TrimSpace(buf.String())
	require.NoError(t, json.Unmarshal([]byte(line), &e))
	assert.True(t, NewSigner(testKeys(t)).Verify(&e))
}

func TestLogger_CorrelationIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, DefaultConfig(), &buf)

	ctx := observability.ContextWithCorrelationID(context.Background(), "corr-123")
	l.LogEvent(ctx, NewEvent(EventTypeAccess, SeverityInfo, "tracked"))

	events := l.Search(Filter{CorrelationID: "corr-123"})
	require.Len(t, events, 1)
	assert.Equal(t, "tracked", events[0].Message)
}

func TestLogger_Search(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, DefaultConfig(), &buf)

	ctx := context.Background()
	l.LogEvent(ctx, NewEvent(EventTypeAccess, SeverityInfo, "a").
		WithOperation("op-a").WithClientID("c1"))
	l.LogEvent(ctx, NewEvent(EventTypeViolation, SeverityWarning, "b").
		WithOperation("op-b").WithClientID("c2"))
	l.LogEvent(ctx, NewEvent(EventTypeViolation, SeverityError, "c").
		WithOperation("op-b").WithClientID("c1"))

	assert.Len(t, l.Search(Filter{Type: EventTypeViolation}), 2)
	assert.Len(t, l.Search(Filter{MinSeverity: SeverityError}), 1)
	assert.Len(t, l.Search(Filter{Operation: "op-b", ClientID: "c1"}), 1)
	assert.Len(t, l.Search(Filter{Limit: 2}), 2)

	// Search survives flushes up to the buffer window
	require.NoError(t, l.Flush())
	assert.Len(t, l.Search(Filter{Type: EventTypeViolation}), 2)

	// Newest first
	all := l.Search(Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Message)
}

func TestLogger_BufferFullTriggersFlush(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.BufferSize = 3
	cfg.FlushInterval = time.Hour // only the size trigger applies
	l := newTestLogger(t, cfg, &buf)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		l.LogEvent(ctx, NewEvent(EventTypeAccess, SeverityInfo, "e"))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3, "hitting the buffer size must flush immediately")
	assert.Zero(t, l.Stats().Buffered)
}

func TestLogger_SigningRequiresKeys(t *testing.T) {
	cfg := DefaultConfig()
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)

	cfg.Sign = false
	l, err := NewLogger(cfg, nil, WithWriter(&bytes.Buffer{}))
	require.NoError(t, err)
	_ = l.Close()
}

func TestAtomicLogger_Swap(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	first := newTestLogger(t, DefaultConfig(), &buf1)
	second := newTestLogger(t, DefaultConfig(), &buf2)

	holder := NewAtomicLogger(first)
	holder.LogEvent(context.Background(), NewEvent(EventTypeSystem, SeverityInfo, "one"))

	old := holder.Swap(second)
	assert.Same(t, first, old)

	holder.LogEvent(context.Background(), NewEvent(EventTypeSystem, SeverityInfo, "two"))

	assert.Equal(t, uint64(1), first.Stats().Logged)
	assert.Equal(t, uint64(1), second.Stats().Logged)
	assert.Equal(t, uint64(1), holder.Stats().Logged)
}
