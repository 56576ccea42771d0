package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    1 * time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return nil
	}, fastRetryConfig(3), nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetry_RetriesTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("timeout"))
		}
		return nil
	}, fastRetryConfig(3), nil)

	if err != nil {
		t.Errorf("Expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetry_FatalNotRetried(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return NewFatalError(errors.New("bad request"))
	}, fastRetryConfig(3), nil)

	if !IsFatal(err) {
		t.Errorf("Expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call (no retry on fatal), got %d", calls)
	}
}

func TestRetry_ExhaustionSurfacesAsFatal(t *testing.T) {
	calls := 0
	retries := 0
	err := Retry(context.Background(), func() error {
		calls++
		return NewTransientError(errors.New("still down"))
	}, fastRetryConfig(3), func(attempt int, err error) {
		retries++
	})

	if !IsFatal(err) {
		t.Errorf("Expected exhausted retries to surface as fatal, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
	if retries != 2 {
		t.Errorf("Expected 2 retry notifications, got %d", retries)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := fastRetryConfig(3)
	config.InitialBackoff = 100 * time.Millisecond

	err := Retry(ctx, func() error {
		return NewTransientError(errors.New("timeout"))
	}, config, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestCalculateBackoff(t *testing.T) {
	if got := CalculateBackoff(0, time.Second, 8*time.Second, 2.0); got != time.Second {
		t.Errorf("Expected 1s for attempt 0, got %v", got)
	}
	if got := CalculateBackoff(2, time.Second, 8*time.Second, 2.0); got != 4*time.Second {
		t.Errorf("Expected 4s for attempt 2, got %v", got)
	}
	if got := CalculateBackoff(10, time.Second, 8*time.Second, 2.0); got != 8*time.Second {
		t.Errorf("Expected cap at 8s, got %v", got)
	}
}

func TestClassifyNetworkError(t *testing.T) {
	if !IsTransient(ClassifyNetworkError(context.DeadlineExceeded)) {
		t.Error("Expected deadline exceeded to be transient")
	}
	if !IsTransient(ClassifyNetworkError(errors.New("dial tcp: connection refused"))) {
		t.Error("Expected connection refused to be transient")
	}
	if IsTransient(ClassifyNetworkError(errors.New("unauthorized"))) {
		t.Error("Expected auth failure not to be transient")
	}
}
