// Package util provides shared utility types for the middleware layer.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrRateLimited.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., ValidationError, CircuitOpenError). Each
//     type implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
package util

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrResourceExhausted = errors.New("resource limit exceeded")
	ErrCacheViolation    = errors.New("cache security violation")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrTimeout           = errors.New("timeout")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrClosed            = errors.New("component closed")
)

// ValidationError represents an input validation failure.
type ValidationError struct {
	Operation string
	Reasons   []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("validation failed for %s: %v", e.Operation, e.Reasons)
	}
	return fmt.Sprintf("validation failed: %v", e.Reasons)
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	if target == ErrInvalidInput {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a new ValidationError.
func NewValidationError(operation string, reasons []string) *ValidationError {
	return &ValidationError{Operation: operation, Reasons: reasons}
}

// RateLimitError represents a rate limit denial.
type RateLimitError struct {
	Scope      string
	Operation  string
	ClientID   string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded at %s scope for %s (retry after %v)",
		e.Scope, e.Operation, e.RetryAfter)
}

// Is checks if the error matches the target.
func (e *RateLimitError) Is(target error) bool {
	if target == ErrRateLimited {
		return true
	}
	_, ok := target.(*RateLimitError)
	return ok
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(scope, operation, clientID string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Scope: scope, Operation: operation, ClientID: clientID, RetryAfter: retryAfter}
}

// ResourceExhaustedError represents a resource limit violation.
type ResourceExhaustedError struct {
	Violations []string
}

// Error implements the error interface.
func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource limit exceeded: %v", e.Violations)
}

// Is checks if the error matches the target.
func (e *ResourceExhaustedError) Is(target error) bool {
	if target == ErrResourceExhausted {
		return true
	}
	_, ok := target.(*ResourceExhaustedError)
	return ok
}

// NewResourceExhaustedError creates a new ResourceExhaustedError.
func NewResourceExhaustedError(violations []string) *ResourceExhaustedError {
	return &ResourceExhaustedError{Violations: violations}
}

// CacheViolationError represents a cache integrity failure.
type CacheViolationError struct {
	Partition string
	Reason    string
}

// Error implements the error interface.
func (e *CacheViolationError) Error() string {
	return fmt.Sprintf("cache security violation in partition %q: %s", e.Partition, e.Reason)
}

// Is checks if the error matches the target.
func (e *CacheViolationError) Is(target error) bool {
	if target == ErrCacheViolation {
		return true
	}
	_, ok := target.(*CacheViolationError)
	return ok
}

// NewCacheViolationError creates a new CacheViolationError.
func NewCacheViolationError(partition, reason string) *CacheViolationError {
	return &CacheViolationError{Partition: partition, Reason: reason}
}

// CircuitOpenError represents a rejected call on an open circuit.
type CircuitOpenError struct {
	Name  string
	State string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s", e.Name, e.State)
}

// Is checks if the error matches the target.
func (e *CircuitOpenError) Is(target error) bool {
	if target == ErrCircuitOpen {
		return true
	}
	_, ok := target.(*CircuitOpenError)
	return ok
}

// NewCircuitOpenError creates a new CircuitOpenError.
func NewCircuitOpenError(name, state string) *CircuitOpenError {
	return &CircuitOpenError{Name: name, State: state}
}

// TimeoutError represents an operation deadline being exceeded.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	Cause     error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %v during %s", e.Duration, e.Operation)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if target == ErrTimeout {
		return true
	}
	_, ok := target.(*TimeoutError)
	return ok || errors.Is(e.Cause, target)
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: duration}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsSecurityViolation returns true for errors that count as security
// violations in the manager's metrics.
func IsSecurityViolation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrResourceExhausted) ||
		errors.Is(err, ErrCacheViolation)
}

// IsRetryable returns true if the error is transient and a retry may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrRateLimited)
}
