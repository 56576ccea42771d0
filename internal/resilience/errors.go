package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// contacting the backend.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// TransientError marks a backend failure worth retrying: timeouts, network
// resets, 5xx-equivalents. Exhausted retries are re-surfaced as fatal.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient backend error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// FatalError marks a backend failure that must not be retried: malformed
// input, auth failure, retry exhaustion.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal backend error: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps an error as fatal
func NewFatalError(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsTransient reports whether an error is classified as transient
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether an error is classified as fatal
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ClassifyNetworkError wraps raw transport errors: timeouts and connection
// failures become transient, everything else is left to the caller
func ClassifyNetworkError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTransientError(err)
	}

	errStr := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"no route to host",
		"network is unreachable",
		"i/o timeout",
		"EOF",
	} {
		if strings.Contains(errStr, marker) {
			return NewTransientError(err)
		}
	}

	return err
}
