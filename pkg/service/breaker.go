package service

import (
	"sync"
	"time"
)

// breakerState is one per-target-service circuit breaker's phase.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker is a simple closed/open/half-open circuit breaker wrapping
// call_rpc's retry loop (SPEC_FULL.md §4, supplemented feature — the
// spec's NOT_ACTIVE retry path already handles sticky-active failover;
// this guards against a target service that is simply down or
// consistently timing out, independent of that path). Grounded on the
// teacher's pkg/worker.HealthMonitor consecutive-failure-threshold
// pattern, generalized from "mark unhealthy" to "stop sending traffic".
type breaker struct {
	mu               sync.Mutex
	state            breakerState
	consecutiveFails int
	openedAt         time.Time

	failureThreshold int
	openDuration     time.Duration
}

func newBreaker(failureThreshold int, openDuration time.Duration) *breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if openDuration <= 0 {
		openDuration = 10 * time.Second
	}
	return &breaker{failureThreshold: failureThreshold, openDuration: openDuration}
}

// Allow reports whether a call should be attempted. An open breaker
// transitions to half-open once openDuration has elapsed, allowing a
// single trial call through.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if time.Since(b.openedAt) >= b.openDuration {
			b.state = breakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.consecutiveFails = 0
}

// RecordFailure counts consecutive timeout/handler-error outcomes,
// tripping the breaker open once the threshold is reached. NOT_ACTIVE
// outcomes are not failures here — they are the expected signal during
// a sticky-active failover, handled by the retry path instead.
func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen {
		b.trip()
		return
	}
	b.consecutiveFails++
	if b.consecutiveFails >= b.failureThreshold {
		b.trip()
	}
}

func (b *breaker) trip() {
	b.state = breakerOpen
	b.openedAt = time.Now()
	b.consecutiveFails = 0
}

func (b *breaker) State() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
