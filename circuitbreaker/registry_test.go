package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(DefaultConfig(), nil, nil)

	assert.Nil(t, r.Get("missing"))

	b1 := r.GetOrCreate("validation")
	b2 := r.GetOrCreate("validation")
	assert.Same(t, b1, b2, "same name must return the same breaker")

	b3 := r.GetOrCreate("processing")
	assert.NotSame(t, b1, b3)

	assert.Equal(t, 2, r.Count())
	assert.ElementsMatch(t, []string{"validation", "processing"}, r.Names())
}

func TestRegistry_GetOrCreateWithConfig(t *testing.T) {
	r := NewRegistry(DefaultConfig(), nil, nil)

	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.Timeout = time.Minute
	b := r.GetOrCreateWithConfig("tight", cfg)

	_ = b.Execute(context.Background(), func() error { return errors.New("boom") })
	assert.Equal(t, "open", b.Stats().State, "custom threshold must apply")
}

func TestRegistry_Stats(t *testing.T) {
	r := NewRegistry(DefaultConfig(), nil, nil)
	r.GetOrCreate("a")
	r.GetOrCreate("b")

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "closed", stats["a"].State)
}

func TestRegistry_ResetAll(t *testing.T) {
	r := NewRegistry(DefaultConfig(), nil, nil)

	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	b := r.GetOrCreateWithConfig("tripped", cfg)
	_ = b.Execute(context.Background(), func() error { return errors.New("boom") })
	require.Equal(t, "open", b.Stats().State)

	r.ResetAll()

	fresh := r.Get("tripped")
	require.NotNil(t, fresh)
	assert.Equal(t, "closed", fresh.Stats().State)

	// The per-breaker configuration survives the reset
	_ = fresh.Execute(context.Background(), func() error { return errors.New("boom") })
	assert.Equal(t, "open", fresh.Stats().State)
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry(DefaultConfig(), nil, nil)
	r.GetOrCreate("gone")
	r.Remove("gone")
	assert.Nil(t, r.Get("gone"))
	assert.Equal(t, 0, r.Count())
}
