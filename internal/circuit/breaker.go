// Package circuit implements a minimal circuit breaker for external
// services (principally the LlmProvider) — Closed/Open/HalfOpen with a
// failure-count threshold and a single HalfOpen probe, matching §5's
// "Circuit breaker" design note.
package circuit

import (
	"sync"
	"time"
)

// State is one of Closed, Open, HalfOpen.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker guards calls to an external service. Safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	openTimeout      time.Duration

	state       State
	failures    int
	openedAt    time.Time
	probeInFlight bool
}

// New creates a breaker that opens after failureThreshold consecutive
// failures and allows one HalfOpen probe after openTimeout has elapsed.
func New(failureThreshold int, openTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return &Breaker{failureThreshold: failureThreshold, openTimeout: openTimeout}
}

// Allow reports whether a call may proceed right now. When the breaker is
// Open and the timeout has elapsed, it transitions to HalfOpen and allows
// exactly one probe through; concurrent callers during that probe are
// rejected until the probe reports its outcome via Success/Failure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) < b.openTimeout {
			return false
		}
		b.state = HalfOpen
		b.probeInFlight = true
		return true
	case HalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// Success records a successful call, closing the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probeInFlight = false
}

// Failure records a failed call. In Closed state it counts toward the
// threshold; in HalfOpen state it immediately reopens the breaker.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.openedAt = time.Now()
		b.probeInFlight = false
	case Closed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = Open
			b.openedAt = time.Now()
		}
	}
}

// CurrentState returns the current state, for logging/diagnostics.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
