package circuitbreaker

import (
	"sync"

	"github.com/vyrodovalexey/guardrail/observability"
)

// Registry manages one breaker per protected operation, created on first
// use with the registry's default configuration.
type Registry struct {
	breakers sync.Map
	config   Config
	logger   observability.Logger
	metrics  *Metrics
}

// NewRegistry creates a breaker registry.
func NewRegistry(config Config, logger observability.Logger, metrics *Metrics) *Registry {
	config.Validate()
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Registry{
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Get returns the breaker for a name, or nil if none exists yet.
func (r *Registry) Get(name string) *Breaker {
	value, ok := r.breakers.Load(name)
	if !ok {
		return nil
	}
	return value.(*Breaker)
}

// GetOrCreate returns the breaker for a name, creating it with the default
// configuration on first use.
func (r *Registry) GetOrCreate(name string) *Breaker {
	if value, ok := r.breakers.Load(name); ok {
		return value.(*Breaker)
	}

	b := New(name, r.config, WithLogger(r.logger), WithMetrics(r.metrics))

	actual, loaded := r.breakers.LoadOrStore(name, b)
	if loaded {
		return actual.(*Breaker)
	}

	r.logger.Debug("created circuit breaker",
		observability.String("name", name),
	)
	return b
}

// GetOrCreateWithConfig returns the breaker for a name, creating it with a
// specific configuration on first use.
func (r *Registry) GetOrCreateWithConfig(name string, config Config) *Breaker {
	if value, ok := r.breakers.Load(name); ok {
		return value.(*Breaker)
	}

	b := New(name, config, WithLogger(r.logger), WithMetrics(r.metrics))

	actual, loaded := r.breakers.LoadOrStore(name, b)
	if loaded {
		return actual.(*Breaker)
	}
	return b
}

// Remove removes a breaker from the registry.
func (r *Registry) Remove(name string) {
	r.breakers.Delete(name)
}

// Names returns the names of all registered breakers.
func (r *Registry) Names() []string {
	var names []string
	r.breakers.Range(func(key, value interface{}) bool {
		names = append(names, key.(string))
		return true
	})
	return names
}

// Stats returns snapshots of all registered breakers.
func (r *Registry) Stats() map[string]Stats {
	stats := make(map[string]Stats)
	r.breakers.Range(func(key, value interface{}) bool {
		stats[key.(string)] = value.(*Breaker).Stats()
		return true
	})
	return stats
}

// ResetAll replaces every registered breaker with a fresh closed one
// carrying the same configuration, discarding accumulated counts.
func (r *Registry) ResetAll() {
	r.breakers.Range(func(key, value interface{}) bool {
		old := value.(*Breaker)
		fresh := New(old.name, old.config,
			WithLogger(r.logger),
			WithMetrics(r.metrics),
			WithStateCallback(old.stateCallback),
		)
		r.breakers.Store(key, fresh)
		return true
	})

	r.logger.Info("all circuit breakers reset")
}

// Count returns the number of registered breakers.
func (r *Registry) Count() int {
	count := 0
	r.breakers.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}
