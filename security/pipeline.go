package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/guardrail/observability"
	"github.com/vyrodovalexey/guardrail/util"
)

// pipelineTracer is the OTEL tracer used for pipeline stages.
var pipelineTracer = otel.Tracer("guardrail/pipeline")

// Operation is the protected unit of work.
type Operation func(ctx context.Context, req Request) (Response, error)

// Request carries an operation's input.
type Request struct {
	// ID identifies the request for cache keying. When empty, a content
	// hash is used instead.
	ID string

	// Content is the untrusted input. The pipeline replaces it with the
	// sanitized form before invoking the operation.
	Content string

	// Metadata carries additional request attributes.
	Metadata map[string]string
}

// Response carries an operation's output.
type Response struct {
	// Result is the operation result. Cached results round-trip through
	// JSON and come back as json.RawMessage.
	Result any

	// Degraded indicates a fail-open downgrade or degradation mode.
	Degraded bool

	// FromCache indicates the result was served from the cache.
	FromCache bool
}

// StageConfig selects which pipeline stages run.
type StageConfig struct {
	// Validate runs input validation on Request.Content.
	Validate bool `yaml:"validate" json:"validate"`

	// RateLimit consults the rate limiter.
	RateLimit bool `yaml:"rateLimit" json:"rateLimit"`

	// ResourceCheck consults the resource monitor.
	ResourceCheck bool `yaml:"resourceCheck" json:"resourceCheck"`

	// CacheResults serves repeated requests from the secure cache.
	CacheResults bool `yaml:"cacheResults" json:"cacheResults"`

	// CacheTTL is the lifetime of cached results. Zero uses the cache
	// default.
	CacheTTL time.Duration `yaml:"cacheTTL" json:"cacheTTL"`

	// Timeout bounds the operation invocation. Zero means no deadline.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// DegradationThreshold is the violation count within the window that
	// flips the pipeline into degraded mode. Zero disables degradation.
	DegradationThreshold int `yaml:"degradationThreshold" json:"degradationThreshold"`

	// DegradationWindow is the sliding window for the violation count.
	DegradationWindow time.Duration `yaml:"degradationWindow" json:"degradationWindow"`
}

// DefaultStageConfig returns a configuration with every stage enabled.
func DefaultStageConfig() StageConfig {
	return StageConfig{
		Validate:             true,
		RateLimit:            true,
		ResourceCheck:        true,
		CacheResults:         true,
		Timeout:              30 * time.Second,
		DegradationThreshold: 0,
		DegradationWindow:    time.Minute,
	}
}

// Pipeline runs protected operations through the configured stages.
// Degradation mode takes precedence over every other stage: once flipped,
// calls return a degraded response without touching the limiter, the cache,
// or the operation itself, until ResetDegradation.
type Pipeline struct {
	manager *Manager
	stages  StageConfig
	logger  observability.Logger

	degraded   atomic.Bool
	violMu     sync.Mutex
	violTimes  []time.Time
	clientFunc func(req Request) string
}

// PipelineOption is a functional option for configuring the Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger.
func WithPipelineLogger(logger observability.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClientIDFunc sets how the client ID is derived from a request. The
// default reads the "client_id" metadata key.
func WithClientIDFunc(fn func(req Request) string) PipelineOption {
	return func(p *Pipeline) {
		if fn != nil {
			p.clientFunc = fn
		}
	}
}

// NewPipeline creates a Pipeline over a Manager.
func NewPipeline(manager *Manager, stages StageConfig, opts ...PipelineOption) *Pipeline {
	if stages.DegradationWindow <= 0 {
		stages.DegradationWindow = time.Minute
	}

	p := &Pipeline{
		manager: manager,
		stages:  stages,
		logger:  observability.NopLogger(),
		clientFunc: func(req Request) string {
			return req.Metadata["client_id"]
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Degraded reports whether the pipeline is in degradation mode.
func (p *Pipeline) Degraded() bool {
	return p.degraded.Load()
}

// ResetDegradation clears degradation mode and the violation window.
func (p *Pipeline) ResetDegradation() {
	p.violMu.Lock()
	p.violTimes = nil
	p.violMu.Unlock()
	p.degraded.Store(false)

	p.logger.Info("pipeline degradation reset")
}

// Execute runs one protected operation through the pipeline. The first
// failing stage's error propagates unchanged.
func (p *Pipeline) Execute(ctx context.Context, name string, op Operation, req Request) (Response, error) {
	ctx, span := pipelineTracer.Start(ctx, "pipeline.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("operation", name)),
	)
	defer span.End()

	if p.degraded.Load() {
		span.AddEvent("degraded_short_circuit")
		return Response{Degraded: true, Result: nil}, nil
	}

	clientID := p.clientFunc(req)
	sctx, ctx := p.manager.Begin(ctx, name, req.ID, "", clientID)

	resp, err := p.run(ctx, sctx, name, op, req)
	p.manager.End(sctx, err)

	if err != nil && util.IsSecurityViolation(err) {
		p.noteViolation()
	}
	if sctx.Degraded() {
		resp.Degraded = true
		p.manager.metrics.RecordDegraded()
	}
	return resp, err
}

// run executes the stages after Begin.
func (p *Pipeline) run(ctx context.Context, sctx *Context, name string, op Operation, req Request) (Response, error) {
	if p.stages.Validate {
		sanitized, err := p.manager.ValidateInput(ctx, sctx, req.Content)
		if err != nil {
			return Response{}, err
		}
		req.Content = sanitized
	}

	if p.stages.RateLimit {
		decision, err := p.manager.CheckRateLimit(ctx, sctx)
		if decision != nil {
			defer decision.Release()
		}
		if err != nil {
			return Response{}, err
		}
	}

	if p.stages.ResourceCheck {
		if err := p.manager.CheckResources(ctx, sctx); err != nil {
			return Response{}, err
		}
	}

	cacheKey := req.ID
	if cacheKey == "" {
		sum := sha256.Sum256([]byte(req.Content))
		cacheKey = hex.EncodeToString(sum[:])
	}

	if p.stages.CacheResults {
		if data, ok := p.manager.cache.Get(ctx, cacheKey, name, true); ok {
			return Response{Result: json.RawMessage(data), FromCache: true}, nil
		}
	}

	// Invocation runs through the processing breaker: repeated operation
	// failures trip it and further calls are rejected without invoking.
	var resp Response
	err := p.manager.breakers.GetOrCreate(BreakerProcessing).Execute(ctx, func() error {
		var ierr error
		resp, ierr = p.invoke(ctx, name, op, req)
		return ierr
	})
	if err != nil {
		return resp, err
	}

	if p.stages.CacheResults && resp.Result != nil {
		if data, merr := json.Marshal(resp.Result); merr == nil {
			p.manager.cache.Put(ctx, cacheKey, data, p.stages.CacheTTL, name)
		}
	}
	return resp, nil
}

// invoke runs the operation under the stage timeout. The operation runs in
// its own goroutine so a hung operation cannot stall the pipeline past the
// deadline; its context is cancelled when the deadline fires.
func (p *Pipeline) invoke(ctx context.Context, name string, op Operation, req Request) (Response, error) {
	if p.stages.Timeout <= 0 {
		return op(ctx, req)
	}

	ctx, cancel := context.WithTimeout(ctx, p.stages.Timeout)
	defer cancel()

	type outcome struct {
		resp Response
		err  error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		resp, err := op(ctx, req)
		resultCh <- outcome{resp: resp, err: err}
	}()

	select {
	case out := <-resultCh:
		return out.resp, out.err
	case <-ctx.Done():
		p.logger.Warn("operation timed out",
			observability.String("operation", name),
			observability.Duration("timeout", p.stages.Timeout),
		)
		return Response{}, util.NewTimeoutError(name, p.stages.Timeout)
	}
}

// noteViolation records a violation and flips degradation mode when the
// window count crosses the threshold.
func (p *Pipeline) noteViolation() {
	if p.stages.DegradationThreshold <= 0 {
		return
	}

	now := time.Now()
	cutoff := now.Add(-p.stages.DegradationWindow)

	p.violMu.Lock()
	kept := p.violTimes[:0]
	for _, t := range p.violTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.violTimes = append(kept, now)
	count := len(p.violTimes)
	p.violMu.Unlock()

	if count >= p.stages.DegradationThreshold && !p.degraded.Swap(true) {
		p.logger.Warn("pipeline entering degradation mode",
			observability.Int("violations", count),
			observability.Duration("window", p.stages.DegradationWindow),
		)
	}
}
