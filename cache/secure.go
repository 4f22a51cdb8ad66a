package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/guardrail/keys"
	"github.com/vyrodovalexey/guardrail/observability"
)

// Ensure SecureCache implements io.Closer for proper resource cleanup.
var _ io.Closer = (*SecureCache)(nil)

// tracerName is the OpenTelemetry tracer name for cache operations.
const tracerName = "guardrail/cache"

// entry is a stored cache entry. Exactly one of plain or sealed is set.
type entry struct {
	rawKey    string
	hashedKey string
	partition string

	plain  []byte
	sealed *sealedValue
	sum    [sha256.Size]byte

	createdAt    time.Time
	expiresAt    time.Time
	accessCount  int64
	lastAccessed time.Time
	size         int
}

// SecureCache is an HMAC-keyed, optionally encrypted, partitioned TTL+LRU
// store. One mutex guards all map/list state; no I/O happens under it.
type SecureCache struct {
	config  *Config
	logger  observability.Logger
	metrics *Metrics

	keyVersion    uint32
	lookupSecret  []byte
	encryptSecret []byte

	mu          sync.Mutex
	items       map[string]*list.Element
	eviction    *list.List // front = most recently used
	partitions  map[string]int
	memoryBytes int64

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
	violations  atomic.Int64
	rejected    atomic.Int64

	stopCh    chan struct{}
	closeOnce sync.Once
}

// Option is a functional option for the SecureCache.
type Option func(*SecureCache)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *SecureCache) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *SecureCache) {
		c.metrics = m
	}
}

// New creates a new SecureCache bound to the key manager's current key
// version and starts the background expiry sweep. Call Close when done.
func New(config *Config, km keys.Manager, opts ...Option) (*SecureCache, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	version := km.Current().Version
	lookupSecret, err := km.DeriveFor(lookupPurpose, version)
	if err != nil {
		return nil, err
	}
	encryptSecret, err := km.DeriveFor(encryptPurpose, version)
	if err != nil {
		return nil, err
	}

	c := &SecureCache{
		config:        config,
		logger:        observability.NopLogger(),
		keyVersion:    version,
		lookupSecret:  lookupSecret,
		encryptSecret: encryptSecret,
		items:         make(map[string]*list.Element),
		eviction:      list.New(),
		partitions:    make(map[string]int),
		stopCh:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics("guardrail")
	}

	go c.cleanupLoop()

	c.logger.Info("secure cache initialized",
		observability.Int("maxEntries", config.MaxEntries),
		observability.Bool("hmacKeys", config.HMACKeys),
		observability.Bool("encrypt", config.Encrypt),
		observability.Uint32("keyVersion", version))

	return c, nil
}

// Put stores a value. It returns false without error when the key or value
// exceeds configured maxima or sealing fails; oversize writes are a
// rejection, not a fault.
func (c *SecureCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration, partition string) bool {
	_, span := otel.Tracer(tracerName).Start(ctx, "cache.Put",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.partition", partition),
			attribute.Int("cache.value_size", len(value)),
		),
	)
	defer span.End()

	if partition == "" {
		partition = DefaultPartition
	}

	if len(key) == 0 || len(key) > c.config.MaxKeyLength {
		c.rejected.Add(1)
		c.metrics.RecordRejected(partition)
		c.logger.Warn("cache put rejected: key length",
			observability.Int("length", len(key)),
			observability.Int("limit", c.config.MaxKeyLength))
		return false
	}
	if len(value) > c.config.MaxEntrySize {
		c.rejected.Add(1)
		c.metrics.RecordRejected(partition)
		c.logger.Warn("cache put rejected: value size",
			observability.Int("size", len(value)),
			observability.Int("limit", c.config.MaxEntrySize))
		return false
	}

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	if ttl > c.config.MaxTTL {
		ttl = c.config.MaxTTL
	}

	now := time.Now()
	e := &entry{
		rawKey:       key,
		hashedKey:    c.lookupKey(key, partition),
		partition:    partition,
		createdAt:    now,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
		size:         len(value),
	}

	if c.config.Encrypt {
		sv, err := c.seal(value)
		if err != nil {
			c.logger.Error("cache put rejected: seal failed", observability.Error(err))
			return false
		}
		e.sealed = sv
	} else {
		e.plain = append([]byte(nil), value...)
		e.sum = checksum(value)
	}

	c.mu.Lock()
	if elem, exists := c.items[e.hashedKey]; exists {
		c.removeElementLocked(elem, true)
	}
	c.ensureCapacityLocked(partition, e.size)

	elem := c.eviction.PushFront(e)
	c.items[e.hashedKey] = elem
	c.partitions[partition]++
	c.memoryBytes += int64(e.size)
	entries := c.eviction.Len()
	memory := c.memoryBytes
	c.mu.Unlock()

	c.metrics.SetSize(entries, memory)
	c.logger.Debug("cache put",
		observability.String("partition", partition),
		observability.Duration("ttl", ttl),
		observability.Int("entries", entries))

	return true
}

// Get retrieves a value. With validate set, the stored checksum or AEAD tag
// is re-verified; a mismatch counts as a security violation, evicts the
// entry, and reads as a miss.
func (c *SecureCache) Get(ctx context.Context, key, partition string, validate bool) ([]byte, bool) {
	_, span := otel.Tracer(tracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("cache.partition", partition)),
	)
	defer span.End()

	if partition == "" {
		partition = DefaultPartition
	}
	hashed := c.lookupKey(key, partition)
	now := time.Now()

	c.mu.Lock()
	elem, exists := c.items[hashed]
	if !exists {
		c.mu.Unlock()
		c.miss(partition, span)
		return nil, false
	}

	e := elem.Value.(*entry)
	if now.After(e.expiresAt) {
		c.removeElementLocked(elem, true)
		c.expirations.Add(1)
		c.mu.Unlock()
		c.metrics.RecordExpiration(partition)
		c.miss(partition, span)
		return nil, false
	}

	c.eviction.MoveToFront(elem)
	e.accessCount++
	e.lastAccessed = now

	// Copy what is needed for verification outside the lock.
	var plain []byte
	sealed := e.sealed
	sum := e.sum
	if e.plain != nil {
		plain = append([]byte(nil), e.plain...)
	}
	c.mu.Unlock()

	if sealed != nil {
		value, err := c.open(sealed)
		if err != nil {
			c.violation(hashed, partition, "authentication tag mismatch")
			c.miss(partition, span)
			return nil, false
		}
		c.hit(partition, span)
		return value, true
	}

	if validate {
		fresh := checksum(plain)
		if subtle.ConstantTimeCompare(fresh[:], sum[:]) != 1 {
			c.violation(hashed, partition, "checksum mismatch")
			c.miss(partition, span)
			return nil, false
		}
	}

	c.hit(partition, span)
	return plain, true
}

// Invalidate removes a single entry.
func (c *SecureCache) Invalidate(key, partition string) {
	if partition == "" {
		partition = DefaultPartition
	}
	hashed := c.lookupKey(key, partition)

	c.mu.Lock()
	if elem, exists := c.items[hashed]; exists {
		c.removeElementLocked(elem, true)
	}
	c.mu.Unlock()
}

// InvalidatePartition removes every entry in a partition.
func (c *SecureCache) InvalidatePartition(partition string) int {
	if partition == "" {
		partition = DefaultPartition
	}

	c.mu.Lock()
	removed := c.removeMatchingLocked(func(e *entry) bool {
		return e.partition == partition
	})
	c.mu.Unlock()
	return removed
}

// InvalidatePattern removes every entry whose raw key contains substr.
func (c *SecureCache) InvalidatePattern(substr string) int {
	if substr == "" {
		return 0
	}

	c.mu.Lock()
	removed := c.removeMatchingLocked(func(e *entry) bool {
		return strings.Contains(e.rawKey, substr)
	})
	c.mu.Unlock()
	return removed
}

// Clear removes every entry.
func (c *SecureCache) Clear() {
	c.mu.Lock()
	c.removeMatchingLocked(func(*entry) bool { return true })
	c.mu.Unlock()
}

// Stats returns cache statistics.
func (c *SecureCache) Stats() Stats {
	c.mu.Lock()
	entries := int64(c.eviction.Len())
	memory := c.memoryBytes
	c.mu.Unlock()

	return Stats{
		Hits:               c.hits.Load(),
		Misses:             c.misses.Load(),
		Entries:            entries,
		MemoryBytes:        memory,
		Evictions:          c.evictions.Load(),
		Expirations:        c.expirations.Load(),
		SecurityViolations: c.violations.Load(),
		Rejected:           c.rejected.Load(),
	}
}

// Close stops the expiry sweep and drops all entries. Safe to call
// multiple times.
func (c *SecureCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.Clear()
		c.logger.Info("secure cache closed")
	})
	return nil
}

// hit records a cache hit.
func (c *SecureCache) hit(partition string, span trace.Span) {
	c.hits.Add(1)
	c.metrics.RecordHit(partition)
	span.SetAttributes(attribute.Bool("cache.hit", true))
}

// miss records a cache miss.
func (c *SecureCache) miss(partition string, span trace.Span) {
	c.misses.Add(1)
	c.metrics.RecordMiss(partition)
	span.SetAttributes(attribute.Bool("cache.hit", false))
}

// violation records an integrity failure and evicts the entry.
func (c *SecureCache) violation(hashedKey, partition, reason string) {
	c.violations.Add(1)
	c.metrics.RecordViolation(partition)

	c.mu.Lock()
	if elem, exists := c.items[hashedKey]; exists {
		c.removeElementLocked(elem, true)
	}
	c.mu.Unlock()

	c.logger.Warn("cache security violation",
		observability.String("partition", partition),
		observability.String("reason", reason))
}

// ensureCapacityLocked evicts LRU entries until the partition, total-entry,
// and memory budgets can absorb an insert of the given size. Must be called
// with the lock held.
func (c *SecureCache) ensureCapacityLocked(partition string, size int) {
	// Partition budget: evict oldest entries of the same partition.
	for c.partitions[partition] >= c.config.MaxPartitionEntries {
		if !c.evictOldestLocked(func(e *entry) bool { return e.partition == partition }) {
			break
		}
	}

	// Global budgets: evict strictly oldest.
	for c.eviction.Len() >= c.config.MaxEntries ||
		c.memoryBytes+int64(size) > c.config.MaxMemoryBytes {
		if !c.evictOldestLocked(nil) {
			break
		}
	}
}

// evictOldestLocked removes the least recently used entry matching the
// optional predicate. Returns false when nothing matched.
func (c *SecureCache) evictOldestLocked(match func(*entry) bool) bool {
	for elem := c.eviction.Back(); elem != nil; elem = elem.Prev() {
		e := elem.Value.(*entry)
		if match == nil || match(e) {
			c.removeElementLocked(elem, true)
			c.evictions.Add(1)
			c.metrics.RecordEviction(e.partition)
			return true
		}
	}
	return false
}

// removeMatchingLocked removes every entry matching the predicate and
// returns the count. Must be called with the lock held.
func (c *SecureCache) removeMatchingLocked(match func(*entry) bool) int {
	var toRemove []*list.Element
	for elem := c.eviction.Front(); elem != nil; elem = elem.Next() {
		if match(elem.Value.(*entry)) {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		c.removeElementLocked(elem, true)
	}
	return len(toRemove)
}

// removeElementLocked unlinks an entry and updates budgets. Must be called
// with the lock held.
func (c *SecureCache) removeElementLocked(elem *list.Element, zero bool) {
	c.eviction.Remove(elem)
	e := elem.Value.(*entry)
	delete(c.items, e.hashedKey)
	c.partitions[e.partition]--
	if c.partitions[e.partition] <= 0 {
		delete(c.partitions, e.partition)
	}
	c.memoryBytes -= int64(e.size)

	if zero && e.plain != nil {
		bestEffortZero(e.plain)
		e.plain = nil
	}
}

// cleanupLoop periodically removes expired entries.
func (c *SecureCache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

// cleanup removes expired entries under a single write lock.
func (c *SecureCache) cleanup() {
	now := time.Now()

	c.mu.Lock()
	removed := c.removeMatchingLocked(func(e *entry) bool {
		return now.After(e.expiresAt)
	})
	c.mu.Unlock()

	if removed > 0 {
		c.expirations.Add(int64(removed))
		c.logger.Debug("cache cleanup completed",
			observability.Int("removed", removed))
	}
}
