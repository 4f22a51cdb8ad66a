package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bigLimits is effectively unlimited for the duration of a test.
var bigLimits = Limits{Rate: 1e6, Burst: 1e6}

func newTestLimiter(t *testing.T, config *Config) *Limiter {
	t.Helper()
	l := NewLimiter(config)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLimiter_OperationBurst(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Global:    bigLimits,
		Operation: Limits{Rate: 1, Burst: 5},
		Client:    bigLimits,
	})

	// A full bucket admits exactly its burst immediately
	for i := 0; i < 5; i++ {
		d := l.Check("analyze", "client-1", 1)
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
		d.Release()
	}

	d := l.Check("analyze", "client-1", 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, ScopeOperation, d.Scope)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	// At 1 token/sec, one more request becomes admissible after ~1s
	time.Sleep(1100 * time.Millisecond)
	d = l.Check("analyze", "client-1", 1)
	assert.True(t, d.Allowed)
	d.Release()
}

func TestLimiter_GlobalRefundOnOperationDenial(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Global:    Limits{Rate: 0.001, Burst: 10},
		Operation: Limits{Rate: 0.001, Burst: 1},
		Client:    bigLimits,
	})

	d := l.Check("op", "c", 1)
	require.True(t, d.Allowed)
	d.Release()

	globalBefore := l.global.Available()

	// Operation bucket is now empty; the global debit must be refunded
	d = l.Check("op", "c", 1)
	require.False(t, d.Allowed)
	require.Equal(t, ScopeOperation, d.Scope)

	assert.InDelta(t, globalBefore, l.global.Available(), 0.01,
		"failed call must not change global availability")
}

func TestLimiter_RefundOnClientDenial(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Global:    Limits{Rate: 0.001, Burst: 10},
		Operation: Limits{Rate: 0.001, Burst: 10},
		Client:    Limits{Rate: 0.001, Burst: 1},
	})

	d := l.Check("op", "c", 1)
	require.True(t, d.Allowed)
	d.Release()

	globalBefore := l.global.Available()
	opBefore := l.operationBucket("op").Available()

	d = l.Check("op", "c", 1)
	require.False(t, d.Allowed)
	require.Equal(t, ScopeClient, d.Scope)

	assert.InDelta(t, globalBefore, l.global.Available(), 0.01)
	assert.InDelta(t, opBefore, l.operationBucket("op").Available(), 0.01)
}

func TestLimiter_PerClientIsolation(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Global:    bigLimits,
		Operation: bigLimits,
		Client:    Limits{Rate: 0.001, Burst: 3},
	})

	// Exhaust client A
	for i := 0; i < 3; i++ {
		d := l.Check("op", "client-a", 1)
		require.True(t, d.Allowed)
		d.Release()
	}
	d := l.Check("op", "client-a", 1)
	require.False(t, d.Allowed)
	require.Equal(t, ScopeClient, d.Scope)

	// Client B is unaffected
	d = l.Check("op", "client-b", 1)
	assert.True(t, d.Allowed)
	d.Release()
}

func TestLimiter_ConcurrencySlots(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Global:        bigLimits,
		Operation:     bigLimits,
		Client:        bigLimits,
		MaxConcurrent: 2,
	})

	d1 := l.Check("op", "c", 1)
	d2 := l.Check("op", "c", 1)
	require.True(t, d1.Allowed)
	require.True(t, d2.Allowed)

	d3 := l.Check("op", "c", 1)
	assert.False(t, d3.Allowed)
	assert.Equal(t, ScopeSlot, d3.Scope)

	d1.Release()
	d4 := l.Check("op", "c", 1)
	assert.True(t, d4.Allowed)

	// Release is idempotent
	d1.Release()
	d2.Release()
	d4.Release()
}

func TestLimiter_Wait(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Global:    bigLimits,
		Operation: Limits{Rate: 10, Burst: 1},
		Client:    bigLimits,
	})

	d := l.Check("op", "c", 1)
	require.True(t, d.Allowed)
	d.Release()

	// Bucket refills at 10/sec, so a short wait should succeed
	start := time.Now()
	d, err := l.Wait(context.Background(), "op", "c", 1, time.Second)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Less(t, time.Since(start), time.Second)
	d.Release()
}

func TestLimiter_WaitContextCancelled(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Global:    bigLimits,
		Operation: Limits{Rate: 0.001, Burst: 1},
		Client:    bigLimits,
	})

	d := l.Check("op", "c", 1)
	require.True(t, d.Allowed)
	d.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := l.Wait(ctx, "op", "c", 1, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_ViolationsAndStats(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Global:              bigLimits,
		Operation:           Limits{Rate: 0.001, Burst: 1},
		Client:              bigLimits,
		MaxViolationHistory: 2,
	})

	d := l.Check("op", "c", 1)
	require.True(t, d.Allowed)
	d.Release()

	for i := 0; i < 4; i++ {
		d := l.Check("op", "c", 1)
		require.False(t, d.Allowed)
	}

	violations := l.Violations()
	require.Len(t, violations, 2, "history must be capped")
	assert.Equal(t, ScopeOperation, violations[0].Scope)
	assert.Equal(t, "op", violations[0].Operation)
	assert.Equal(t, "c", violations[0].ClientID)

	stats := l.Stats()
	assert.Equal(t, int64(1), stats.Allowed)
	assert.Equal(t, int64(4), stats.Denied)
	assert.Equal(t, int64(0), stats.InFlight)
	assert.Greater(t, stats.WindowRate, 0.0)
}

func TestLimiter_AdjustLimits(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Global:    Limits{Rate: 10, Burst: 10},
		Operation: Limits{Rate: 10, Burst: 10},
		Client:    Limits{Rate: 10, Burst: 10},
	})

	// Touch operation and client buckets so they exist
	d := l.Check("op", "c", 1)
	require.True(t, d.Allowed)
	d.Release()

	l.AdjustLimits(0.5)
	assert.InDelta(t, 5, l.global.RefillRate(), 0.001)
	assert.InDelta(t, 5, l.operationBucket("op").RefillRate(), 0.001)

	// Non-positive factors are ignored
	l.AdjustLimits(0)
	assert.InDelta(t, 5, l.global.RefillRate(), 0.001)
}

func TestLimiter_OperationOverride(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Global:    bigLimits,
		Operation: bigLimits,
		Client:    bigLimits,
		Operations: map[string]Limits{
			"tight": {Rate: 0.001, Burst: 1},
		},
	})

	d := l.Check("tight", "c", 1)
	require.True(t, d.Allowed)
	d.Release()

	d = l.Check("tight", "c", 1)
	assert.False(t, d.Allowed)

	d = l.Check("loose", "c", 1)
	assert.True(t, d.Allowed)
	d.Release()
}
