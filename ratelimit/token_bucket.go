package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is the atomic capacity/refill-rate primitive. Tokens refill
// continuously at a fixed rate and never exceed capacity. All mutation goes
// through its methods; the critical section is refill+compare+subtract only.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket creates a full bucket with the given capacity and refill
// rate in tokens per second.
func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		lastRefill: time.Now(),
	}
}

// refillLocked credits tokens for the elapsed time. Must be called with the
// lock held.
func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Consume attempts to take n tokens. It returns true and subtracts them when
// enough are available, false otherwise.
func (b *TokenBucket) Consume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Refund returns previously consumed tokens to the bucket, capped at
// capacity. Used by the composite limiter to undo partial debits when a
// later scope denies the request.
func (b *TokenBucket) Refund(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	b.tokens += n
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// Available returns the current token count after refill.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	return b.tokens
}

// TimeUntil estimates how long until n tokens are available. Zero when they
// already are; a negative n is treated as zero.
func (b *TokenBucket) TimeUntil(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	if b.tokens >= n {
		return 0
	}
	missing := n - b.tokens
	return time.Duration(missing / b.refillRate * float64(time.Second))
}

// Capacity returns the bucket capacity.
func (b *TokenBucket) Capacity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// RefillRate returns the current refill rate in tokens per second.
func (b *TokenBucket) RefillRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refillRate
}

// SetRefillRate replaces the refill rate, crediting tokens accrued at the
// old rate first.
func (b *TokenBucket) SetRefillRate(rate float64) {
	if rate <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	b.refillRate = rate
}
