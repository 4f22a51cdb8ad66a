package util

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := NewValidationError("analyze", []string{"too large", "null bytes"})

	assert.Contains(t, err.Error(), "analyze")
	assert.Contains(t, err.Error(), "too large")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.NotErrorIs(t, err, ErrRateLimited)

	var ve *ValidationError
	assert.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &ve)
	assert.Equal(t, "analyze", ve.Operation)

	bare := NewValidationError("", []string{"bad"})
	assert.Contains(t, bare.Error(), "validation failed")
}

func TestRateLimitError(t *testing.T) {
	err := NewRateLimitError("client", "analyze", "c1", 2*time.Second)

	assert.Contains(t, err.Error(), "client")
	assert.Contains(t, err.Error(), "2s")
	assert.ErrorIs(t, err, ErrRateLimited)

	var rle *RateLimitError
	assert.ErrorAs(t, err, &rle)
	assert.Equal(t, 2*time.Second, rle.RetryAfter)
}

func TestResourceExhaustedError(t *testing.T) {
	err := NewResourceExhaustedError([]string{"memory over limit"})
	assert.Contains(t, err.Error(), "memory over limit")
	assert.ErrorIs(t, err, ErrResourceExhausted)
}

func TestCacheViolationError(t *testing.T) {
	err := NewCacheViolationError("sessions", "checksum mismatch")
	assert.Contains(t, err.Error(), "sessions")
	assert.Contains(t, err.Error(), "checksum mismatch")
	assert.ErrorIs(t, err, ErrCacheViolation)
}

func TestCircuitOpenError(t *testing.T) {
	err := NewCircuitOpenError("processing", "open")
	assert.Contains(t, err.Error(), "processing")
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("analyze", 5*time.Second)
	assert.Contains(t, err.Error(), "5s")
	assert.ErrorIs(t, err, ErrTimeout)

	// A cause is reachable through Unwrap and Is
	cause := errors.New("slow backend")
	err.Cause = cause
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil, "context"))

	inner := errors.New("inner")
	wrapped := WrapError(inner, "outer")
	assert.ErrorIs(t, wrapped, inner)
	assert.Contains(t, wrapped.Error(), "outer: inner")
}

func TestIsSecurityViolation(t *testing.T) {
	assert.False(t, IsSecurityViolation(nil))
	assert.True(t, IsSecurityViolation(NewValidationError("op", nil)))
	assert.True(t, IsSecurityViolation(NewRateLimitError("global", "op", "", 0)))
	assert.True(t, IsSecurityViolation(NewResourceExhaustedError(nil)))
	assert.True(t, IsSecurityViolation(NewCacheViolationError("p", "r")))
	assert.False(t, IsSecurityViolation(NewCircuitOpenError("n", "open")))
	assert.False(t, IsSecurityViolation(errors.New("unrelated")))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(NewTimeoutError("op", time.Second)))
	assert.True(t, IsRetryable(NewCircuitOpenError("n", "open")))
	assert.True(t, IsRetryable(NewRateLimitError("global", "op", "", 0)))
	assert.False(t, IsRetryable(NewValidationError("op", nil)))
}
