package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 5, 1*time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %v", cb.GetState())
	}

	if !cb.Allow() {
		t.Error("Expected to allow request in Closed state")
	}
}

func TestCircuitBreaker_OpenAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 5, 1*time.Second)

	// Five consecutive failures trip the breaker
	for i := 0; i < 4; i++ {
		cb.RecordResult(false)
	}
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be Closed after 4 failures")
	}

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after 5 failures")
	}

	// The 6th call is rejected without contacting the backend
	if cb.Allow() {
		t.Error("Expected to reject request in Open state")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(true)
	cb.RecordResult(false)
	cb.RecordResult(false)

	if cb.GetState() != StateClosed {
		t.Error("Expected non-consecutive failures to keep the circuit Closed")
	}
}

func TestCircuitBreaker_HalfOpenSingleTrial(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		cb.RecordResult(false)
	}
	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be Open")
	}

	time.Sleep(150 * time.Millisecond)

	// Exactly one trial call is admitted after the cooldown
	if !cb.Allow() {
		t.Error("Expected to allow one trial after cooldown")
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected state HalfOpen, got %v", cb.GetState())
	}
	if cb.Allow() {
		t.Error("Expected second call during trial to be rejected")
	}
}

func TestCircuitBreaker_TrialSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		cb.RecordResult(false)
	}
	time.Sleep(80 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("Expected trial call to be admitted")
	}
	cb.RecordResult(true)

	if cb.GetState() != StateClosed {
		t.Error("Expected state Closed after successful trial")
	}
	if !cb.Allow() {
		t.Error("Expected requests to flow after recovery")
	}
}

func TestCircuitBreaker_TrialFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		cb.RecordResult(false)
	}
	time.Sleep(80 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("Expected trial call to be admitted")
	}
	cb.RecordResult(false)

	if cb.GetState() != StateOpen {
		t.Error("Expected state Open after failed trial")
	}

	// Cooldown clock restarted: immediate calls are still rejected
	if cb.Allow() {
		t.Error("Expected request to be rejected right after failed trial")
	}
}

func TestCircuitBreaker_Call(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	err := cb.Call(func() error {
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	err = cb.Call(func() error {
		return errors.New("test error")
	})
	if err == nil {
		t.Error("Expected error from failed call")
	}
}

func TestCircuitBreaker_CallOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 1*time.Second)

	cb.RecordResult(false)

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected backend not to be contacted while open")
	}
}

func TestCircuitBreaker_RetryAfter(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 1*time.Second)

	if cb.RetryAfter() != 0 {
		t.Error("Expected zero retry-after while closed")
	}

	cb.RecordResult(false)

	if cb.RetryAfter() <= 0 {
		t.Error("Expected positive retry-after while open")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 1*time.Second)

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be Open")
	}

	cb.Reset()

	state, requestCount, failureCount, _ := cb.GetStats()
	if state != StateClosed || requestCount != 0 || failureCount != 0 {
		t.Error("Expected stats to be reset")
	}
}
