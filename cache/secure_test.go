package cache

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/guardrail/keys"
)

func newTestCache(t *testing.T, config *Config) *SecureCache {
	t.Helper()
	km, err := keys.NewStaticManager([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	c, err := New(config, km)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSecureCache_RoundTrip(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, c.Put(ctx, "key-1", []byte("value-1"), time.Minute, "p"))

	got, ok := c.Get(ctx, "key-1", "p", true)
	require.True(t, ok)
	assert.Equal(t, []byte("value-1"), got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Entries)
}

func TestSecureCache_EncryptedRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Encrypt = true
	c := newTestCache(t, cfg)
	ctx := context.Background()

	require.True(t, c.Put(ctx, "secret-key", []byte("secret-value"), time.Minute, ""))

	got, ok := c.Get(ctx, "secret-key", "", true)
	require.True(t, ok)
	assert.Equal(t, []byte("secret-value"), got)

	// Stored form is ciphertext, not the plaintext
	c.mu.Lock()
	for _, elem := range c.items {
		e := elem.Value.(*entry)
		require.NotNil(t, e.sealed)
		assert.Nil(t, e.plain)
		assert.NotContains(t, string(e.sealed.ciphertext), "secret-value")
	}
	c.mu.Unlock()
}

func TestSecureCache_TTLExpiry(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, c.Put(ctx, "k", []byte("v"), time.Second, ""))

	_, ok := c.Get(ctx, "k", "", true)
	require.True(t, ok, "entry should be readable before expiry")

	time.Sleep(1100 * time.Millisecond)

	_, ok = c.Get(ctx, "k", "", true)
	assert.False(t, ok, "entry must read as a miss after its TTL")
	assert.GreaterOrEqual(t, c.Stats().Expirations, int64(1))
}

func TestSecureCache_TamperDetection(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, c.Put(ctx, "k", []byte("original"), time.Minute, ""))

	// Corrupt the stored bytes behind the cache's back
	c.mu.Lock()
	for _, elem := range c.items {
		e := elem.Value.(*entry)
		e.plain[0] ^= 0xff
	}
	c.mu.Unlock()

	_, ok := c.Get(ctx, "k", "", true)
	assert.False(t, ok, "tampered entry must read as a miss")
	assert.Equal(t, int64(1), c.Stats().SecurityViolations)

	// The violating entry is evicted
	assert.Equal(t, int64(0), c.Stats().Entries)
}

func TestSecureCache_TamperDetectionEncrypted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Encrypt = true
	c := newTestCache(t, cfg)
	ctx := context.Background()

	require.True(t, c.Put(ctx, "k", []byte("original"), time.Minute, ""))

	c.mu.Lock()
	for _, elem := range c.items {
		e := elem.Value.(*entry)
		e.sealed.ciphertext[0] ^= 0xff
	}
	c.mu.Unlock()

	_, ok := c.Get(ctx, "k", "", true)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().SecurityViolations)
}

func TestSecureCache_PartitionIsolation(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, c.Put(ctx, "same-key", []byte("a"), time.Minute, "pa"))
	require.True(t, c.Put(ctx, "same-key", []byte("b"), time.Minute, "pb"))

	got, ok := c.Get(ctx, "same-key", "pa", true)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), got)

	got, ok = c.Get(ctx, "same-key", "pb", true)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), got)

	removed := c.InvalidatePartition("pa")
	assert.Equal(t, 1, removed)
	_, ok = c.Get(ctx, "same-key", "pa", true)
	assert.False(t, ok)
	_, ok = c.Get(ctx, "same-key", "pb", true)
	assert.True(t, ok)
}

func TestSecureCache_SizeRejection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntrySize = 8
	cfg.MaxKeyLength = 16
	c := newTestCache(t, cfg)
	ctx := context.Background()

	assert.False(t, c.Put(ctx, "k", []byte("far too large for the limit"), 0, ""))
	assert.False(t, c.Put(ctx, strings.Repeat("k", 17), []byte("v"), 0, ""))
	assert.False(t, c.Put(ctx, "", []byte("v"), 0, ""))
	assert.True(t, c.Put(ctx, "k", []byte("small"), 0, ""))

	assert.Equal(t, int64(3), c.Stats().Rejected)
}

func TestSecureCache_LRUEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 3
	cfg.MaxPartitionEntries = 3
	c := newTestCache(t, cfg)
	ctx := context.Background()

	require.True(t, c.Put(ctx, "a", []byte("1"), time.Minute, ""))
	require.True(t, c.Put(ctx, "b", []byte("2"), time.Minute, ""))
	require.True(t, c.Put(ctx, "c", []byte("3"), time.Minute, ""))

	// Touch "a" so "b" becomes least recently used
	_, ok := c.Get(ctx, "a", "", true)
	require.True(t, ok)

	require.True(t, c.Put(ctx, "d", []byte("4"), time.Minute, ""))

	_, ok = c.Get(ctx, "b", "", true)
	assert.False(t, ok, "least recently used entry should have been evicted")
	_, ok = c.Get(ctx, "a", "", true)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, c.Stats().Evictions, int64(1))
}

func TestSecureCache_PartitionBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 100
	cfg.MaxPartitionEntries = 2
	c := newTestCache(t, cfg)
	ctx := context.Background()

	require.True(t, c.Put(ctx, "a", []byte("1"), time.Minute, "p"))
	require.True(t, c.Put(ctx, "b", []byte("2"), time.Minute, "p"))
	require.True(t, c.Put(ctx, "c", []byte("3"), time.Minute, "p"))

	// Oldest same-partition entry went first; other partitions are unaffected
	_, ok := c.Get(ctx, "a", "p", true)
	assert.False(t, ok)
	_, ok = c.Get(ctx, "c", "p", true)
	assert.True(t, ok)
}

func TestSecureCache_MemoryBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMemoryBytes = 32
	cfg.MaxEntrySize = 16
	c := newTestCache(t, cfg)
	ctx := context.Background()

	require.True(t, c.Put(ctx, "a", make([]byte, 16), time.Minute, ""))
	require.True(t, c.Put(ctx, "b", make([]byte, 16), time.Minute, ""))
	require.True(t, c.Put(ctx, "c", make([]byte, 16), time.Minute, ""))

	stats := c.Stats()
	assert.LessOrEqual(t, stats.MemoryBytes, int64(32))
	assert.GreaterOrEqual(t, stats.Evictions, int64(1))
}

func TestSecureCache_ValueLargerThanMemoryBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMemoryBytes = 1024
	c := newTestCache(t, cfg)
	ctx := context.Background()

	require.True(t, c.Put(ctx, "small", make([]byte, 64), time.Minute, ""))

	// A value inside the default entry-size limit but over the memory
	// budget must be rejected, not evict the cache and land over budget
	assert.False(t, c.Put(ctx, "huge", make([]byte, 4096), time.Minute, ""))

	stats := c.Stats()
	assert.LessOrEqual(t, stats.MemoryBytes, int64(1024))
	assert.Equal(t, int64(1), stats.Rejected)

	_, ok := c.Get(ctx, "small", "", true)
	assert.True(t, ok, "existing entries survive a rejected oversize put")
}

func TestSecureCache_InvalidatePattern(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, c.Put(ctx, fmt.Sprintf("user:%d:profile", i), []byte("v"), time.Minute, ""))
	}
	require.True(t, c.Put(ctx, "other", []byte("v"), time.Minute, ""))

	removed := c.InvalidatePattern(":profile")
	assert.Equal(t, 3, removed)
	assert.Equal(t, int64(1), c.Stats().Entries)

	assert.Equal(t, 0, c.InvalidatePattern(""))
}

func TestSecureCache_ReplaceExisting(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, c.Put(ctx, "k", []byte("old"), time.Minute, ""))
	require.True(t, c.Put(ctx, "k", []byte("new"), time.Minute, ""))

	got, ok := c.Get(ctx, "k", "", true)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got)
	assert.Equal(t, int64(1), c.Stats().Entries)
}

func TestSecureCache_LookupKeyHMAC(t *testing.T) {
	c := newTestCache(t, nil)

	a := c.lookupKey("key", "p1")
	b := c.lookupKey("key", "p2")
	assert.NotEqual(t, a, b, "partitions must not collide")
	assert.NotContains(t, a, "key", "hashed keys must not leak the raw key")
	assert.Equal(t, a, c.lookupKey("key", "p1"))
}

func TestStats_HitRate(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.HitRate())
	assert.Equal(t, 75.0, Stats{Hits: 3, Misses: 1}.HitRate())
}
