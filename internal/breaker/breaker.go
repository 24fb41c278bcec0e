// Package breaker implements a simple per-process circuit breaker: a
// failure counter and an open flag, no half-open probe state. Once the
// failure threshold is reached the breaker opens for a fixed cool-down and
// then resets, independent of any other worker process.
package breaker

import (
	"sync/atomic"
	"time"
)

const (
	// DefaultFailureThreshold is the number of consecutive failures that
	// opens the circuit.
	DefaultFailureThreshold = 5

	// DefaultCooldown is how long the circuit stays open before it resets.
	DefaultCooldown = 30 * time.Second
)

// Breaker tracks consecutive failures and short-circuits calls once it
// trips, until the cool-down elapses.
type Breaker struct {
	threshold int32
	cooldown  time.Duration

	failures  atomic.Int32
	open      atomic.Bool
	openUntil atomic.Int64 // unix nanos
}

// New creates a Breaker. threshold <= 0 and cooldown <= 0 fall back to the
// package defaults.
func New(threshold int32, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed. It also clears the open state
// once the cool-down has elapsed, resetting the failure counter.
func (b *Breaker) Allow() bool {
	if !b.open.Load() {
		return true
	}
	if time.Now().UnixNano() >= b.openUntil.Load() {
		b.open.Store(false)
		b.failures.Store(0)
		return true
	}
	return false
}

// RecordSuccess clears the failure counter.
func (b *Breaker) RecordSuccess() {
	b.failures.Store(0)
}

// RecordFailure increments the failure counter and opens the circuit once
// the threshold is reached.
func (b *Breaker) RecordFailure() {
	if b.failures.Add(1) >= b.threshold {
		b.open.Store(true)
		b.openUntil.Store(time.Now().Add(b.cooldown).UnixNano())
	}
}

// Open reports whether the circuit is currently open.
func (b *Breaker) Open() bool {
	return b.open.Load()
}
