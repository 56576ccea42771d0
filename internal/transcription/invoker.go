package transcription

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/capitalrow/scribed/internal/observability"
	"github.com/capitalrow/scribed/internal/ratelimit"
	"github.com/capitalrow/scribed/internal/resilience"
)

// Invoker wraps the backend Transcriber with failure isolation and resource
// protection: a call proceeds only when the circuit breaker is not open and
// the rate limiter admits it. Transient failures retry with exponential
// backoff and jitter; every outcome is recorded in the breaker.
type Invoker struct {
	backend Transcriber
	breaker *resilience.CircuitBreaker
	limiter *ratelimit.Limiter
	retry   *resilience.RetryConfig
	logger  zerolog.Logger
}

// NewInvoker composes the invocation path. All collaborators are injected;
// the invoker owns none of their lifecycles.
func NewInvoker(backend Transcriber, breaker *resilience.CircuitBreaker, limiter *ratelimit.Limiter, retry *resilience.RetryConfig, logger zerolog.Logger) *Invoker {
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	return &Invoker{
		backend: backend,
		breaker: breaker,
		limiter: limiter,
		retry:   retry,
		logger:  logger.With().Str("component", "invoker").Logger(),
	}
}

// Transcribe runs one admission-checked, breaker-guarded backend call.
// clientID keys the rate-limit window for the session's owner.
func (inv *Invoker) Transcribe(ctx context.Context, clientID string, pcm []byte) (*Result, error) {
	// Fast fail while the breaker is cooling down, without consuming any
	// rate-limit budget
	if inv.breaker.GetState() == resilience.StateOpen && inv.breaker.RetryAfter() > 0 {
		return nil, resilience.ErrCircuitOpen
	}

	if err := inv.limiter.Allow(ctx, clientID, ratelimit.CategoryTranscription); err != nil {
		observability.RecordRateLimitRejection(string(ratelimit.CategoryTranscription))
		// Admission rejections are not backend failures; the breaker only
		// sees calls that actually reached the backend.
		return nil, err
	}

	var result *Result
	attempts := 0
	start := time.Now()
	log := inv.requestLogger(ctx)

	err := resilience.Retry(ctx, func() error {
		attempts++
		// Re-checked per attempt: a retry must not slip through a breaker
		// that tripped on the previous attempt
		if !inv.breaker.Allow() {
			return resilience.ErrCircuitOpen
		}
		res, callErr := inv.backend.Transcribe(ctx, pcm)
		if callErr != nil {
			inv.breaker.RecordResult(false)
			observability.IncrementCircuitBreakerFailures(inv.breaker.Name())
			observability.UpdateCircuitBreakerState(inv.breaker.Name(), int(inv.breaker.GetState()))
			return callErr
		}
		inv.breaker.RecordResult(true)
		observability.UpdateCircuitBreakerState(inv.breaker.Name(), int(inv.breaker.GetState()))
		result = res
		return nil
	}, inv.retry, func(attempt int, err error) {
		observability.RecordBackendRetry()
		log.Warn().Err(err).Int("attempt", attempt).Msg("retrying backend call")
	})

	elapsed := time.Since(start).Seconds()

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, err
	}

	if err != nil {
		status := "fatal_error"
		if resilience.IsTransient(err) {
			status = "transient_error"
		}
		observability.RecordBackendRequest(status, elapsed)
		return nil, err
	}

	observability.RecordBackendRequest("success", elapsed)
	result.Retries = attempts - 1
	return result, nil
}

// requestLogger prefers the correlation logger carried in the request
// context, falling back to the invoker's own logger when none is set.
func (inv *Invoker) requestLogger(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return inv.logger
}

// BreakerRetryAfter exposes the breaker cooldown for error reporting
func (inv *Invoker) BreakerRetryAfter() time.Duration {
	return inv.breaker.RetryAfter()
}
