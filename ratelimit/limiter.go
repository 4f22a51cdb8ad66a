// Package ratelimit provides composite rate limiting for protected
// operations: a global bucket, per-operation buckets, lazily created
// per-client buckets, and a bounded concurrency-slot counter. Denial is a
// return value, never an error, at this layer.
package ratelimit

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vyrodovalexey/guardrail/observability"
)

// Ensure Limiter implements io.Closer for proper resource cleanup.
var _ io.Closer = (*Limiter)(nil)

// Scope identifies the limiter scope that produced a decision.
type Scope string

// Limiter scopes.
const (
	ScopeSlot      Scope = "slot"
	ScopeGlobal    Scope = "global"
	ScopeOperation Scope = "operation"
	ScopeClient    Scope = "client"
)

// Limits configures a single bucket scope.
type Limits struct {
	// Rate is the refill rate in tokens per second.
	Rate float64 `yaml:"rate" json:"rate"`

	// Burst is the bucket capacity.
	Burst float64 `yaml:"burst" json:"burst"`
}

// Config holds configuration for the composite limiter.
type Config struct {
	// Global is the process-wide limit across all operations and clients.
	Global Limits `yaml:"global" json:"global"`

	// Operation is the default per-operation limit.
	Operation Limits `yaml:"operation" json:"operation"`

	// Client is the default per-client limit.
	Client Limits `yaml:"client" json:"client"`

	// Operations overrides the default operation limit by name.
	Operations map[string]Limits `yaml:"operations,omitempty" json:"operations,omitempty"`

	// Window is the sliding window used for stats and client GC.
	Window time.Duration `yaml:"window" json:"window"`

	// MaxConcurrent bounds the number of in-flight operations.
	MaxConcurrent int64 `yaml:"maxConcurrent" json:"maxConcurrent"`

	// MaxViolationHistory caps the recorded violation history.
	MaxViolationHistory int `yaml:"maxViolationHistory" json:"maxViolationHistory"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Global:              Limits{Rate: 100, Burst: 200},
		Operation:           Limits{Rate: 50, Burst: 100},
		Client:              Limits{Rate: 10, Burst: 20},
		Window:              time.Minute,
		MaxConcurrent:       64,
		MaxViolationHistory: 1000,
	}
}

// Validate normalizes the configuration.
func (c *Config) Validate() {
	norm := func(l *Limits, rate, burst float64) {
		if l.Rate <= 0 {
			l.Rate = rate
		}
		if l.Burst <= 0 {
			l.Burst = burst
		}
	}
	norm(&c.Global, 100, 200)
	norm(&c.Operation, 50, 100)
	norm(&c.Client, 10, 20)
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 64
	}
	if c.MaxViolationHistory <= 0 {
		c.MaxViolationHistory = 1000
	}
}

// Decision is the result of a rate limit check.
type Decision struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Scope is the scope that denied the request, empty when allowed.
	Scope Scope

	// RetryAfter estimates when the denying bucket will have capacity.
	RetryAfter time.Duration

	release     func()
	releaseOnce sync.Once
}

// Release frees the concurrency slot held by an allowed decision. Safe to
// call multiple times and on denied decisions.
func (d *Decision) Release() {
	if d.release != nil {
		d.releaseOnce.Do(d.release)
	}
}

// Violation records a single denied request for observability.
type Violation struct {
	Time      time.Time
	Scope     Scope
	Operation string
	ClientID  string
}

// clientEntry holds a per-client bucket and its last access time.
type clientEntry struct {
	bucket     *TokenBucket
	lastAccess time.Time
}

// Limiter composes the slot, global, operation, and client scopes.
// Check order is slot, global, operation, client; a denial at a later scope
// refunds every earlier debit so availability is unchanged by failed calls.
type Limiter struct {
	config  *Config
	logger  observability.Logger
	metrics *Metrics

	global *TokenBucket
	slots  *semaphore.Weighted

	mu         sync.Mutex
	operations map[string]*TokenBucket
	clients    map[string]*clientEntry
	violations []Violation
	recent     []time.Time // decision timestamps inside the stats window

	inFlight   atomic.Int64
	allowed    atomic.Int64
	denied     atomic.Int64
	deniedSlot atomic.Int64

	stopCh    chan struct{}
	closeOnce sync.Once
}

// Option is a functional option for the Limiter.
type Option func(*Limiter)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// NewLimiter creates a new composite limiter and starts the background
// client garbage collector. Call Close when done.
func NewLimiter(config *Config, opts ...Option) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	l := &Limiter{
		config:     config,
		logger:     observability.NopLogger(),
		global:     NewTokenBucket(config.Global.Burst, config.Global.Rate),
		slots:      semaphore.NewWeighted(config.MaxConcurrent),
		operations: make(map[string]*TokenBucket),
		clients:    make(map[string]*clientEntry),
		stopCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = NewMetrics("guardrail")
	}

	go l.gcLoop()

	return l
}

// Check performs the composite rate limit check for n tokens. An allowed
// decision holds a concurrency slot until Release is called.
func (l *Limiter) Check(operation, clientID string, n float64) *Decision {
	if n <= 0 {
		n = 1
	}

	// Concurrency slot first: it bounds in-flight work regardless of rates.
	if !l.slots.TryAcquire(1) {
		return l.deny(ScopeSlot, operation, clientID, 0)
	}
	release := func() {
		l.slots.Release(1)
		l.inFlight.Add(-1)
	}
	l.inFlight.Add(1)

	if !l.global.Consume(n) {
		release()
		return l.deny(ScopeGlobal, operation, clientID, l.global.TimeUntil(n))
	}

	opBucket := l.operationBucket(operation)
	if !opBucket.Consume(n) {
		// Global availability after a failed call must equal availability
		// before the call.
		l.global.Refund(n)
		release()
		return l.deny(ScopeOperation, operation, clientID, opBucket.TimeUntil(n))
	}

	if clientID != "" {
		clientBucket := l.clientBucket(clientID)
		if !clientBucket.Consume(n) {
			l.global.Refund(n)
			opBucket.Refund(n)
			release()
			return l.deny(ScopeClient, operation, clientID, clientBucket.TimeUntil(n))
		}
	}

	l.allowed.Add(1)
	l.recordDecision()
	l.metrics.RecordAllowed(operation)

	return &Decision{Allowed: true, release: release}
}

// Wait blocks until a check succeeds or maxWait elapses, sleeping in bounded
// increments driven by the denying bucket's estimate.
func (l *Limiter) Wait(ctx context.Context, operation, clientID string, n float64, maxWait time.Duration) (*Decision, error) {
	deadline := time.Now().Add(maxWait)

	for {
		d := l.Check(operation, clientID, n)
		if d.Allowed {
			return d, nil
		}

		sleep := d.RetryAfter
		if sleep < 10*time.Millisecond {
			sleep = 10 * time.Millisecond
		}
		if sleep > 250*time.Millisecond {
			sleep = 250 * time.Millisecond
		}
		if remaining := time.Until(deadline); remaining <= 0 {
			return d, nil
		} else if sleep > remaining {
			sleep = remaining
		}

		select {
		case <-ctx.Done():
			return d, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// AdjustLimits rescales every refill rate by factor for adaptive
// backpressure. Factor must be positive.
func (l *Limiter) AdjustLimits(factor float64) {
	if factor <= 0 {
		return
	}

	l.global.SetRefillRate(l.global.RefillRate() * factor)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.operations {
		b.SetRefillRate(b.RefillRate() * factor)
	}
	for _, e := range l.clients {
		e.bucket.SetRefillRate(e.bucket.RefillRate() * factor)
	}

	l.logger.Info("rate limits adjusted",
		observability.Float64("factor", factor))
}

// Violations returns a copy of the recorded violation history.
func (l *Limiter) Violations() []Violation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Violation, len(l.violations))
	copy(out, l.violations)
	return out
}

// Stats holds limiter statistics.
type Stats struct {
	Allowed       int64
	Denied        int64
	DeniedSlot    int64
	InFlight      int64
	ActiveClients int
	WindowRate    float64 // decisions per second over the sliding window
}

// Stats returns current limiter statistics.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	l.pruneRecentLocked(time.Now())
	windowCount := len(l.recent)
	activeClients := len(l.clients)
	l.mu.Unlock()

	return Stats{
		Allowed:       l.allowed.Load(),
		Denied:        l.denied.Load(),
		DeniedSlot:    l.deniedSlot.Load(),
		InFlight:      l.inFlight.Load(),
		ActiveClients: activeClients,
		WindowRate:    float64(windowCount) / l.config.Window.Seconds(),
	}
}

// Close stops the background garbage collector. Safe to call multiple times.
func (l *Limiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
	})
	return nil
}

// deny records a denial and builds the decision.
func (l *Limiter) deny(scope Scope, operation, clientID string, retryAfter time.Duration) *Decision {
	l.denied.Add(1)
	if scope == ScopeSlot {
		l.deniedSlot.Add(1)
	}
	l.metrics.RecordDenied(operation, string(scope))
	l.recordDecision()

	l.mu.Lock()
	l.violations = append(l.violations, Violation{
		Time:      time.Now(),
		Scope:     scope,
		Operation: operation,
		ClientID:  clientID,
	})
	if len(l.violations) > l.config.MaxViolationHistory {
		l.violations = l.violations[len(l.violations)-l.config.MaxViolationHistory:]
	}
	l.mu.Unlock()

	l.logger.Debug("rate limit denied",
		observability.String("scope", string(scope)),
		observability.String("operation", operation),
		observability.String("client_id", clientID),
		observability.Duration("retry_after", retryAfter))

	return &Decision{Scope: scope, RetryAfter: retryAfter}
}

// operationBucket returns the bucket for an operation, creating it with the
// configured override or default on first use.
func (l *Limiter) operationBucket(operation string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.operations[operation]; ok {
		return b
	}

	limits := l.config.Operation
	if override, ok := l.config.Operations[operation]; ok {
		limits = override
	}
	b := NewTokenBucket(limits.Burst, limits.Rate)
	l.operations[operation] = b
	return b
}

// clientBucket returns the bucket for a client, creating it lazily.
func (l *Limiter) clientBucket(clientID string) *TokenBucket {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.clients[clientID]; ok {
		e.lastAccess = now
		return e.bucket
	}

	b := NewTokenBucket(l.config.Client.Burst, l.config.Client.Rate)
	l.clients[clientID] = &clientEntry{bucket: b, lastAccess: now}
	l.metrics.SetActiveClients(len(l.clients))
	return b
}

// recordDecision appends a timestamp to the sliding stats window.
func (l *Limiter) recordDecision() {
	now := time.Now()
	l.mu.Lock()
	l.recent = append(l.recent, now)
	l.pruneRecentLocked(now)
	l.mu.Unlock()
}

// pruneRecentLocked drops timestamps outside the window. Must be called
// with the lock held.
func (l *Limiter) pruneRecentLocked(now time.Time) {
	cutoff := now.Add(-l.config.Window)
	i := 0
	for i < len(l.recent) && l.recent[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.recent = l.recent[i:]
	}
}

// gcLoop removes clients idle beyond ten limiter windows.
func (l *Limiter) gcLoop() {
	ticker := time.NewTicker(l.config.Window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.gcClients(10 * l.config.Window)
		case <-l.stopCh:
			return
		}
	}
}

// gcClients removes per-client buckets idle longer than maxIdle.
func (l *Limiter) gcClients(maxIdle time.Duration) {
	now := time.Now()

	l.mu.Lock()
	removed := 0
	for id, e := range l.clients {
		if now.Sub(e.lastAccess) > maxIdle {
			delete(l.clients, id)
			removed++
		}
	}
	active := len(l.clients)
	l.mu.Unlock()

	l.metrics.SetActiveClients(active)
	if removed > 0 {
		l.logger.Debug("idle client buckets collected",
			observability.Int("removed", removed))
	}
}
