package security

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/guardrail/audit"
	"github.com/vyrodovalexey/guardrail/cache"
	"github.com/vyrodovalexey/guardrail/circuitbreaker"
	"github.com/vyrodovalexey/guardrail/keys"
	"github.com/vyrodovalexey/guardrail/observability"
	"github.com/vyrodovalexey/guardrail/ratelimit"
	"github.com/vyrodovalexey/guardrail/resource"
	"github.com/vyrodovalexey/guardrail/util"
	"github.com/vyrodovalexey/guardrail/validation"
)

// Named breakers the manager creates at construction. BreakerValidation
// guards the input validation path; BreakerProcessing guards operation
// invocation in the pipeline.
const (
	BreakerValidation = "validation"
	BreakerProcessing = "processing"
)

// Manager composes the protection subsystems and applies policy to their
// verdicts. All subsystems are owned unless injected through an option;
// owned subsystems are shut down by Close.
type Manager struct {
	config  Config
	logger  observability.Logger
	metrics *Metrics

	km        keys.Manager
	validator *validation.Validator
	limiter   *ratelimit.Limiter
	cache     *cache.SecureCache
	audit     audit.Logger
	monitor   *resource.Monitor
	breakers  *circuitbreaker.Registry

	ownsLimiter bool
	ownsCache   bool
	ownsAudit   bool
	ownsMonitor bool

	totalOps   atomic.Int64
	failedOps  atomic.Int64
	violations atomic.Int64

	durationMu  sync.Mutex
	avgDuration time.Duration

	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option is a functional option for configuring the Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger observability.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithKeys injects a key manager.
func WithKeys(km keys.Manager) Option {
	return func(m *Manager) {
		m.km = km
	}
}

// WithValidator injects a validator.
func WithValidator(v *validation.Validator) Option {
	return func(m *Manager) {
		m.validator = v
	}
}

// WithLimiter injects a rate limiter. The caller keeps ownership.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(m *Manager) {
		m.limiter = l
	}
}

// WithCache injects a secure cache. The caller keeps ownership.
func WithCache(c *cache.SecureCache) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithAuditLogger injects an audit logger. The caller keeps ownership.
func WithAuditLogger(a audit.Logger) Option {
	return func(m *Manager) {
		m.audit = a
	}
}

// WithMonitor injects a resource monitor. The caller keeps ownership.
func WithMonitor(mon *resource.Monitor) Option {
	return func(m *Manager) {
		m.monitor = mon
	}
}

// WithBreakers injects a circuit breaker registry.
func WithBreakers(r *circuitbreaker.Registry) Option {
	return func(m *Manager) {
		m.breakers = r
	}
}

// NewManager creates a Manager, constructing default subsystems for any not
// injected, and starts the background anomaly loop.
func NewManager(config Config, opts ...Option) (*Manager, error) {
	config.Validate()

	m := &Manager{
		config: config,
		logger: observability.NopLogger(),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.km == nil {
		km, err := keys.NewRandomManager()
		if err != nil {
			return nil, err
		}
		m.km = km
	}
	if m.validator == nil {
		m.validator = validation.New(nil)
	}
	if m.limiter == nil {
		m.limiter = ratelimit.NewLimiter(nil, ratelimit.WithLogger(m.logger))
		m.ownsLimiter = true
	}
	if m.cache == nil {
		c, err := cache.New(nil, m.km, cache.WithLogger(m.logger))
		if err != nil {
			return nil, err
		}
		m.cache = c
		m.ownsCache = true
	}
	if m.audit == nil {
		a, err := audit.NewLogger(audit.DefaultConfig(), m.km, audit.WithLogger(m.logger))
		if err != nil {
			return nil, err
		}
		m.audit = a
		m.ownsAudit = true
	}
	if m.monitor == nil {
		mon, err := resource.NewMonitor(resource.DefaultConfig(), resource.WithLogger(m.logger))
		if err != nil {
			return nil, err
		}
		m.monitor = mon
		m.ownsMonitor = true
	}
	if m.breakers == nil {
		breakerCfg := circuitbreaker.DefaultConfig()
		breakerCfg.FailureThreshold = config.BreakerThreshold
		breakerCfg.Timeout = config.BreakerTimeout
		m.breakers = circuitbreaker.NewRegistry(breakerCfg, m.logger, nil)
	}
	m.breakers.GetOrCreate(BreakerValidation)
	m.breakers.GetOrCreate(BreakerProcessing)

	go m.watchLoop()
	return m, nil
}

// Cache returns the manager's secure cache.
func (m *Manager) Cache() *cache.SecureCache {
	return m.cache
}

// Audit returns the manager's audit logger.
func (m *Manager) Audit() audit.Logger {
	return m.audit
}

// Limiter returns the manager's rate limiter.
func (m *Manager) Limiter() *ratelimit.Limiter {
	return m.limiter
}

// Breakers returns the manager's circuit breaker registry.
func (m *Manager) Breakers() *circuitbreaker.Registry {
	return m.breakers
}

// Keys returns the manager's key manager.
func (m *Manager) Keys() keys.Manager {
	return m.km
}

// Begin opens a protected operation. It assigns a correlation ID, threads
// it through the returned context, and records an access-granted audit
// event.
func (m *Manager) Begin(ctx context.Context, operation, resourceName, userID, clientID string) (*Context, context.Context) {
	sctx := &Context{
		correlationID: uuid.New().String(),
		operation:     operation,
		resource:      resourceName,
		userID:        userID,
		clientID:      clientID,
		startTime:     time.Now(),
	}
	ctx = observability.ContextWithCorrelationID(ctx, sctx.correlationID)

	m.totalOps.Add(1)
	m.audit.LogEvent(ctx, audit.AccessEvent(operation, resourceName, "granted").
		WithCorrelationID(sctx.correlationID).
		WithUserID(userID).
		WithClientID(clientID))

	return sctx, ctx
}

// End closes a protected operation. The caller's error is recorded, never
// replaced.
func (m *Manager) End(sctx *Context, err error) {
	elapsed := sctx.Elapsed()

	m.durationMu.Lock()
	if m.avgDuration == 0 {
		m.avgDuration = elapsed
	} else {
		m.avgDuration = (m.avgDuration*9 + elapsed) / 10
	}
	m.durationMu.Unlock()

	result := "success"
	severity := audit.SeverityInfo
	if err != nil {
		result = "error"
		severity = audit.SeverityError
		m.failedOps.Add(1)
	}

	event := audit.NewEvent(audit.EventTypeAccess, severity, "operation completed").
		WithCorrelationID(sctx.correlationID).
		WithOperation(sctx.operation).
		WithResource(sctx.resource).
		WithUserID(sctx.userID).
		WithClientID(sctx.clientID).
		WithResult(result).
		WithDuration(elapsed)
	if err != nil {
		event = event.WithMetadata("error", err.Error())
	}
	m.audit.LogEvent(context.Background(), event)

	m.metrics.RecordOperation(sctx.operation, result, elapsed)
}

// Do runs fn between Begin and End and returns fn's error unchanged.
func (m *Manager) Do(ctx context.Context, operation, resourceName, userID, clientID string, fn func(ctx context.Context, sctx *Context) error) error {
	sctx, ctx := m.Begin(ctx, operation, resourceName, userID, clientID)
	err := fn(ctx, sctx)
	m.End(sctx, err)
	return err
}

// ValidateInput checks untrusted content and returns the sanitized form.
// Invalid input denies even under FailOpen unless AllowInvalidInput is set.
// The check runs through the validation breaker, so a sustained burst of
// invalid input trips it and further calls are rejected fast with
// util.ErrCircuitOpen.
func (m *Manager) ValidateInput(ctx context.Context, sctx *Context, content string) (string, error) {
	var result validation.Result
	err := m.breakers.GetOrCreate(BreakerValidation).Execute(ctx, func() error {
		result = m.validator.ValidateContent(content)
		if !result.Valid {
			return util.NewValidationError(sctx.operation, result.Reasons)
		}
		return nil
	})
	if err == nil {
		return result.Sanitized, nil
	}
	if !errors.Is(err, util.ErrInvalidInput) {
		// Open breaker or cancelled context, not a verdict on the input.
		return "", err
	}

	m.recordViolation(ctx, sctx, "validation", result.Reasons...)

	if m.config.FailOpen && m.config.AllowInvalidInput {
		sctx.markDegraded()
		return result.Sanitized, nil
	}
	return "", err
}

// CheckRateLimit consults the limiter for the operation's client. The
// returned decision's Release must be called when the operation finishes,
// whether or not an error is returned.
func (m *Manager) CheckRateLimit(ctx context.Context, sctx *Context) (*ratelimit.Decision, error) {
	decision := m.limiter.Check(sctx.operation, sctx.clientID, 1)
	if decision.Allowed {
		return decision, nil
	}

	m.recordViolation(ctx, sctx, "rate_limit", "scope "+string(decision.Scope))

	if m.config.FailOpen {
		sctx.markDegraded()
		return decision, nil
	}
	return decision, util.NewRateLimitError(string(decision.Scope), sctx.operation, sctx.clientID, decision.RetryAfter)
}

// CheckResources verifies the process is inside its resource ceilings.
func (m *Manager) CheckResources(ctx context.Context, sctx *Context) error {
	ok, violations := m.monitor.Check()
	if ok {
		return nil
	}

	m.recordViolation(ctx, sctx, "resource", violations...)

	if m.config.KillOnResourceViolation {
		m.logger.Fatal("resource limits exceeded, terminating",
			observability.Strings("violations", violations))
	}
	if m.config.FailOpen {
		sctx.markDegraded()
		return nil
	}
	return util.NewResourceExhaustedError(violations)
}

// recordViolation logs a violation audit event and bumps counters.
func (m *Manager) recordViolation(ctx context.Context, sctx *Context, kind string, reasons ...string) {
	m.violations.Add(1)
	m.metrics.RecordViolation(kind)

	event := audit.ViolationEvent(sctx.operation, kind+" check failed").
		WithCorrelationID(sctx.correlationID).
		WithClientID(sctx.clientID).
		WithMetadata("kind", kind)
	if len(reasons) > 0 {
		event = event.WithMetadata("reasons", reasons)
	}
	m.audit.LogEvent(ctx, event)

	m.logger.Warn("security check failed",
		observability.String("kind", kind),
		observability.String("operation", sctx.operation),
		observability.String("client_id", sctx.clientID),
		observability.Strings("reasons", reasons),
	)
}

// Stats is a snapshot of manager-level counters merged with subsystem
// statistics.
type Stats struct {
	TotalOperations  int64                          `json:"totalOperations"`
	FailedOperations int64                          `json:"failedOperations"`
	Violations       int64                          `json:"violations"`
	AvgDuration      time.Duration                  `json:"avgDuration"`
	RateLimit        ratelimit.Stats                `json:"rateLimit"`
	Cache            cache.Stats                    `json:"cache"`
	Audit            audit.Stats                    `json:"audit"`
	Breakers         map[string]circuitbreaker.Stats `json:"breakers"`
	Resources        resource.Usage                 `json:"resources"`
}

// Stats returns a merged snapshot of the manager and its subsystems.
func (m *Manager) Stats() Stats {
	m.durationMu.Lock()
	avg := m.avgDuration
	m.durationMu.Unlock()

	return Stats{
		TotalOperations:  m.totalOps.Load(),
		FailedOperations: m.failedOps.Load(),
		Violations:       m.violations.Load(),
		AvgDuration:      avg,
		RateLimit:        m.limiter.Stats(),
		Cache:            m.cache.Stats(),
		Audit:            m.audit.Stats(),
		Breakers:         m.breakers.Stats(),
		Resources:        m.monitor.Last(),
	}
}

// watchLoop periodically checks for anomalies and unhealthy subsystems.
func (m *Manager) watchLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.config.MonitorInterval)
	defer ticker.Stop()

	var lastTotal, lastFailed, lastViolations int64

	for {
		select {
		case <-ticker.C:
			total := m.totalOps.Load()
			failed := m.failedOps.Load()
			violations := m.violations.Load()

			deltaTotal := total - lastTotal
			deltaFailed := failed - lastFailed
			deltaViolations := violations - lastViolations
			lastTotal, lastFailed, lastViolations = total, failed, violations

			if deltaTotal > 0 {
				rate := float64(deltaFailed) / float64(deltaTotal)
				if rate >= m.config.AnomalyFailureRate {
					m.logger.Warn("anomalous failure rate",
						observability.Float64("failure_rate", rate),
						observability.Int64("operations", deltaTotal),
					)
					m.audit.LogEvent(context.Background(),
						audit.SystemEvent(audit.SeverityWarning, "anomalous failure rate").
							WithMetadata("failure_rate", rate))
				}
			}
			if deltaViolations >= m.config.AnomalyViolationSpike {
				m.logger.Warn("security violation spike",
					observability.Int64("violations", deltaViolations),
				)
				m.audit.LogEvent(context.Background(),
					audit.SystemEvent(audit.SeverityWarning, "security violation spike").
						WithMetadata("violations", deltaViolations))
			}

			if dropped := m.audit.Stats().Dropped; dropped > 0 {
				m.logger.Warn("audit events dropped by rate ceiling",
					observability.Uint64("dropped", dropped))
			}

			m.healthCheck()
		case <-m.stopCh:
			return
		}
	}
}

// healthCheck warns about unhealthy components: breakers that are not
// closed and a resource monitor whose samples have gone stale.
func (m *Manager) healthCheck() {
	for name, s := range m.breakers.Stats() {
		if s.State == "closed" {
			continue
		}
		m.logger.Warn("circuit breaker not closed",
			observability.String("name", name),
			observability.String("state", s.State),
			observability.Uint32("consecutiveFailures", s.ConsecutiveFailures))
		m.audit.LogEvent(context.Background(),
			audit.SystemEvent(audit.SeverityWarning, "circuit breaker not closed").
				WithMetadata("breaker", name).
				WithMetadata("state", s.State))
	}

	if last := m.monitor.Last(); !last.SampledAt.IsZero() &&
		time.Since(last.SampledAt) > 3*m.config.MonitorInterval {
		m.logger.Warn("resource monitor samples are stale",
			observability.Time("lastSample", last.SampledAt))
	}
}

// Close stops the background loop and shuts down owned subsystems.
func (m *Manager) Close() error {
	var firstErr error
	m.closeOnce.Do(func() {
		close(m.stopCh)
		<-m.done

		if m.ownsLimiter {
			if err := m.limiter.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if m.ownsCache {
			if err := m.cache.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if m.ownsMonitor {
			if err := m.monitor.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if m.ownsAudit {
			if err := m.audit.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
