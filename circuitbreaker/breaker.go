package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/guardrail/observability"
	"github.com/vyrodovalexey/guardrail/util"
)

// StateFunc is called when a breaker changes state.
type StateFunc func(name string, from, to gobreaker.State)

// Breaker wraps gobreaker.CircuitBreaker for a single protected operation.
type Breaker struct {
	cb            *gobreaker.CircuitBreaker
	name          string
	config        Config
	logger        observability.Logger
	metrics       *Metrics
	stateCallback StateFunc
}

// Option is a functional option for configuring a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(b *Breaker) {
		b.metrics = m
	}
}

// WithStateCallback sets a callback invoked on every state transition.
func WithStateCallback(fn StateFunc) Option {
	return func(b *Breaker) {
		b.stateCallback = fn
	}
}

// New creates a circuit breaker for the named operation.
func New(name string, config Config, opts ...Option) *Breaker {
	config.Validate()

	b := &Breaker{
		name:   name,
		config: config,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}

	threshold := safeIntToUint32(config.FailureThreshold)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: safeIntToUint32(config.HalfOpenMax),
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Info("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			b.metrics.RecordTransition(name, from, to)
			if b.stateCallback != nil {
				b.stateCallback(name, from, to)
			}
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

// Execute runs fn under the breaker. Rejections while open or half-open are
// returned as a CircuitOpenError; fn's own error passes through unchanged.
// A disabled breaker runs fn directly without counting the call.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.config.Enabled {
		return fn()
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == nil {
		b.metrics.RecordCall(b.name, "success")
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.metrics.RecordCall(b.name, "rejected")
		return &util.CircuitOpenError{Name: b.name, State: b.cb.State().String()}
	}

	b.metrics.RecordCall(b.name, "failure")
	return err
}

// Allow reports whether a call would currently be admitted. It does not
// reserve a half-open probe slot; use Execute for that.
func (b *Breaker) Allow() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// Name returns the operation name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts returns the current breaker counters.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// Stats is a snapshot of one breaker.
type Stats struct {
	// Name is the operation name.
	Name string `json:"name"`

	// State is the breaker state string.
	State string `json:"state"`

	// Requests is the number of calls in the current window.
	Requests uint32 `json:"requests"`

	// TotalFailures is the number of failed calls in the current window.
	TotalFailures uint32 `json:"totalFailures"`

	// ConsecutiveFailures is the current failure run length.
	ConsecutiveFailures uint32 `json:"consecutiveFailures"`

	// ObservedAt is when the snapshot was taken.
	ObservedAt time.Time `json:"observedAt"`
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	counts := b.cb.Counts()
	return Stats{
		Name:                b.name,
		State:               b.cb.State().String(),
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		ObservedAt:          time.Now().UTC(),
	}
}
