package poolcore

import (
	"testing"

	"github.com/tutu-network/modelcore/internal/domain"
)

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, CooldownSecs: 30, HalfOpenProbeBudget: 3})

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("Allow() before trip: %v", err)
		}
		b.RecordFailure()
	}
	if b.State() != CBClosed {
		t.Fatalf("state after 2 failures = %v, want Closed", b.State())
	}

	b.RecordFailure()
	if b.State() != CBOpen {
		t.Fatalf("state after 3rd failure = %v, want Open", b.State())
	}
	if err := b.Allow(); err != domain.ErrCircuitOpen {
		t.Errorf("Allow() while open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_HalfOpenClosesOnSuccessThreshold(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, CooldownSecs: 0, HalfOpenProbeBudget: 5})

	b.RecordFailure()
	if b.State() != CBOpen {
		t.Fatalf("expected Open after single failure, got %v", b.State())
	}

	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() should admit a half-open probe once cooldown elapses: %v", err)
	}
	if b.State() != CBHalfOpen {
		t.Fatalf("state after cooldown elapse = %v, want HalfOpen", b.State())
	}

	b.RecordSuccess()
	if b.State() != CBHalfOpen {
		t.Fatalf("state after 1 success = %v, want still HalfOpen", b.State())
	}
	b.RecordSuccess()
	if b.State() != CBClosed {
		t.Fatalf("state after success_threshold successes = %v, want Closed", b.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, CooldownSecs: 0, HalfOpenProbeBudget: 5})

	b.RecordFailure()
	_ = b.Allow() // transitions to HalfOpen
	b.RecordFailure()

	if b.State() != CBOpen {
		t.Errorf("a half-open failure should re-open immediately, got %v", b.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeBudgetExhausts(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 5, CooldownSecs: 0, HalfOpenProbeBudget: 2})

	b.RecordFailure()
	_ = b.Allow() // first probe, budget 2->1

	if err := b.Allow(); err != nil {
		t.Fatalf("second probe should be admitted: %v", err)
	}
	if err := b.Allow(); err != domain.ErrCircuitOpen {
		t.Errorf("third probe should exhaust budget and re-open, got %v", err)
	}
	if b.State() != CBOpen {
		t.Errorf("state after budget exhaustion = %v, want Open", b.State())
	}
}

func TestCircuitBreaker_CooldownBlocksEarlyProbe(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, CooldownSecs: 3600, HalfOpenProbeBudget: 3})
	b.RecordFailure()
	if err := b.Allow(); err != domain.ErrCircuitOpen {
		t.Errorf("Allow() before cooldown elapses = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	b := NewCircuitBreaker(DefaultBreakerConfig())
	b.RecordFailure()
	b.RecordFailure()
	b.Reset()
	state, failures, successes := b.Snapshot()
	if state != CBClosed || failures != 0 || successes != 0 {
		t.Errorf("Snapshot() after Reset = (%v, %d, %d), want (Closed, 0, 0)", state, failures, successes)
	}
}
