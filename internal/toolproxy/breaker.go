// Package toolproxy guards external quality-tool invocations with a
// per-tool circuit breaker, a TTL-cached health check, and automatic
// fallback-tool substitution. Optional-tool failure never blocks the
// pipeline: when every fallback fails, the proxy reports success with
// a warning instead of an error.
package toolproxy

import (
	"math"
	"sync/atomic"
	"time"
)

const (
	circuitClosed   uint32 = 0
	circuitOpen     uint32 = 1
	circuitHalfOpen uint32 = 2
)

// CircuitBreaker halts calls to a repeatedly-failing tool for a
// cool-down period. After the cool-down elapses exactly one attempt is
// allowed; its outcome either closes the breaker or reopens it with a
// fresh cool-down.
type CircuitBreaker struct {
	failures    atomic.Int32
	threshold   int32
	coolDown    time.Duration
	state       atomic.Uint32 // closed, open, half-open
	lastFailure atomic.Int64  // unix nanos; retry allowed after lastFailure+coolDown
}

// NewCircuitBreaker creates a closed breaker that opens after
// threshold consecutive failures and allows a retry after coolDown.
func NewCircuitBreaker(threshold int32, coolDown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		coolDown:  coolDown,
	}
}

// ShouldAttempt reports whether a call is allowed. While open it
// returns false until the cool-down elapses from the last failure,
// then true exactly once per cool-down cycle: the CAS guarantees a
// single goroutine wins the half-open test request.
func (cb *CircuitBreaker) ShouldAttempt() bool {
	for {
		switch cb.state.Load() {
		case circuitOpen:
			lastFail := time.Unix(0, cb.lastFailure.Load())
			if time.Since(lastFail) > cb.coolDown {
				if cb.state.CompareAndSwap(circuitOpen, circuitHalfOpen) {
					return true
				}
				continue // lost the race, re-read state
			}
			return false
		case circuitHalfOpen:
			return false
		default:
			return true
		}
	}
}

// NextRetry returns when the next attempt will be allowed. The zero
// time means attempts are allowed now.
func (cb *CircuitBreaker) NextRetry() time.Time {
	if cb.state.Load() != circuitOpen {
		return time.Time{}
	}
	return time.Unix(0, cb.lastFailure.Load()).Add(cb.coolDown)
}

// RecordSuccess closes the breaker and resets the failure count.
// Open to closed always goes through an explicit observed success.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failures.Store(0)
	cb.state.Store(circuitClosed)
}

// RecordFailure increments the failure count and opens the breaker at
// the threshold. A failure while half-open reopens immediately with a
// fresh cool-down.
func (cb *CircuitBreaker) RecordFailure() {
	for {
		current := cb.failures.Load()
		if current == math.MaxInt32 {
			return
		}
		if !cb.failures.CompareAndSwap(current, current+1) {
			continue
		}

		if current+1 >= cb.threshold {
			if cb.state.CompareAndSwap(circuitClosed, circuitOpen) ||
				cb.state.CompareAndSwap(circuitHalfOpen, circuitOpen) {
				cb.lastFailure.Store(time.Now().UnixNano())
			}
		} else if cb.state.CompareAndSwap(circuitHalfOpen, circuitOpen) {
			// Half-open probe failed below threshold: reopen anyway.
			cb.lastFailure.Store(time.Now().UnixNano())
		}
		return
	}
}

// IsOpen reports whether the breaker currently rejects attempts.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.state.Load() == circuitOpen
}

// State returns the breaker state as a string for logs and reports.
func (cb *CircuitBreaker) State() string {
	switch cb.state.Load() {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
