package poolcore

import (
	"sync/atomic"
	"time"

	"github.com/tutu-network/modelcore/internal/domain"
)

// CBState is the circuit breaker's externally observable state.
type CBState int32

const (
	CBClosed CBState = iota
	CBOpen
	CBHalfOpen
)

func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "closed"
	case CBOpen:
		return "open"
	case CBHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the per-model circuit breaker.
type BreakerConfig struct {
	FailureThreshold    int64
	SuccessThreshold    int64
	CooldownSecs        int64
	HalfOpenProbeBudget int64
}

// DefaultBreakerConfig mirrors common production defaults: trip after 5
// consecutive failures, cool down for 30s, require 2 clean probes to close.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		CooldownSecs:        30,
		HalfOpenProbeBudget: 3,
	}
}

// CircuitBreaker tracks per-model failure state with Closed/Open/HalfOpen
// transitions driven entirely by atomics — state transitions use CAS on the
// state word so concurrent observers see a coherent snapshot.
type CircuitBreaker struct {
	cfg BreakerConfig

	state                atomic.Int32
	consecutiveFailures  atomic.Int64
	consecutiveSuccesses atomic.Int64
	openedAtUnixSecs     atomic.Int64
	halfOpenProbeBudget  atomic.Int64
}

// NewCircuitBreaker creates a breaker starting Closed.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg}
}

// State returns the current state.
func (b *CircuitBreaker) State() CBState {
	return CBState(b.state.Load())
}

// Allow decides whether a request may proceed, performing the Open →
// HalfOpen transition if the cooldown has elapsed. Closed always allows.
// Open allows only once cooldown_secs has passed, at which point it flips
// to HalfOpen and admits the triggering request as a probe. HalfOpen admits
// up to half_open_probe_budget requests and rejects the rest.
func (b *CircuitBreaker) Allow() error {
	switch CBState(b.state.Load()) {
	case CBClosed:
		return nil
	case CBOpen:
		now := time.Now().Unix()
		openedAt := b.openedAtUnixSecs.Load()
		if now-openedAt < b.cfg.CooldownSecs {
			return domain.ErrCircuitOpen
		}
		if b.state.CompareAndSwap(int32(CBOpen), int32(CBHalfOpen)) {
			b.halfOpenProbeBudget.Store(b.cfg.HalfOpenProbeBudget)
			b.consecutiveSuccesses.Store(0)
		}
		return b.admitHalfOpenProbe()
	case CBHalfOpen:
		return b.admitHalfOpenProbe()
	default:
		return nil
	}
}

func (b *CircuitBreaker) admitHalfOpenProbe() error {
	for {
		budget := b.halfOpenProbeBudget.Load()
		if budget <= 0 {
			// Budget exhausted without reaching success_threshold: re-open.
			b.reopen()
			return domain.ErrCircuitOpen
		}
		if b.halfOpenProbeBudget.CompareAndSwap(budget, budget-1) {
			return nil
		}
	}
}

// RecordSuccess increments consecutive_successes and resets
// consecutive_failures. In HalfOpen, success_threshold consecutive
// successes closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.consecutiveFailures.Store(0)
	successes := b.consecutiveSuccesses.Add(1)

	if CBState(b.state.Load()) == CBHalfOpen && successes >= b.cfg.SuccessThreshold {
		if b.state.CompareAndSwap(int32(CBHalfOpen), int32(CBClosed)) {
			b.consecutiveFailures.Store(0)
			b.consecutiveSuccesses.Store(0)
		}
	}
}

// RecordFailure increments consecutive_failures and resets
// consecutive_successes. Closed opens once failure_threshold is reached.
// Any HalfOpen failure re-opens immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.consecutiveSuccesses.Store(0)
	failures := b.consecutiveFailures.Add(1)

	switch CBState(b.state.Load()) {
	case CBHalfOpen:
		b.reopen()
	case CBClosed:
		if failures >= b.cfg.FailureThreshold {
			b.reopen()
		}
	}
}

func (b *CircuitBreaker) reopen() {
	b.openedAtUnixSecs.Store(time.Now().Unix())
	b.state.Store(int32(CBOpen))
}

// Snapshot reports consecutive_failures/successes for observability.
func (b *CircuitBreaker) Snapshot() (state CBState, consecutiveFailures, consecutiveSuccesses int64) {
	return CBState(b.state.Load()), b.consecutiveFailures.Load(), b.consecutiveSuccesses.Load()
}

// Reset forces the breaker back to Closed with zeroed counters. Used by
// tests and administrative overrides.
func (b *CircuitBreaker) Reset() {
	b.state.Store(int32(CBClosed))
	b.consecutiveFailures.Store(0)
	b.consecutiveSuccesses.Store(0)
	b.openedAtUnixSecs.Store(0)
	b.halfOpenProbeBudget.Store(0)
}
