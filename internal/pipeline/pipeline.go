package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/capitalrow/scribed/internal/audio"
	"github.com/capitalrow/scribed/internal/filter"
	"github.com/capitalrow/scribed/internal/observability"
	"github.com/capitalrow/scribed/internal/qa"
	"github.com/capitalrow/scribed/internal/ratelimit"
	"github.com/capitalrow/scribed/internal/resilience"
	"github.com/capitalrow/scribed/internal/session"
	"github.com/capitalrow/scribed/internal/transcription"
)

// Chunk processing outcomes, as recorded in metrics and the QA window
const (
	OutcomeAccepted     = "accepted"
	OutcomeGated        = "gated"
	OutcomeSuppressed   = "suppressed"
	OutcomeInvalidAudio = "invalid_audio"
	OutcomeBackendError = "backend_error"
	OutcomeDropped      = "dropped"
	OutcomeDiscarded    = "discarded"
)

// Deps are the pipeline's collaborators, all injected
type Deps struct {
	Normalizer *audio.Normalizer
	Gate       *audio.Gate
	Invoker    *transcription.Invoker
	Filter     *filter.Filter
	Sessions   *session.Manager
	Quality    *qa.Engine
	Emitter    Emitter
	Logger     zerolog.Logger
	QueueDepth int
}

// Pipeline routes audio chunks through normalize, gate, transcribe, and
// filter stages. Each session gets its own worker goroutine, so chunks for
// one session are processed in arrival order while sessions run in
// parallel.
type Pipeline struct {
	deps   Deps
	logger zerolog.Logger

	mu      sync.Mutex
	workers map[string]*worker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pipeline and hooks it into session eviction so workers are
// torn down when their session goes away
func New(deps Deps) *Pipeline {
	if deps.QueueDepth <= 0 {
		deps.QueueDepth = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		deps:    deps,
		logger:  deps.Logger.With().Str("component", "pipeline").Logger(),
		workers: make(map[string]*worker),
		ctx:     ctx,
		cancel:  cancel,
	}
	deps.Sessions.OnEvict(p.handleEviction)
	return p
}

// Enqueue hands a chunk to its session's worker, starting one if needed.
// Returns an error only when the session is not live; backpressure is
// handled by shedding the oldest interim chunk, which gets acked as
// dropped.
func (p *Pipeline) Enqueue(chunk *Chunk) error {
	s, ok := p.deps.Sessions.Get(chunk.SessionID)
	if !ok || s.Evicted() {
		return fmt.Errorf("session %s is not live", chunk.SessionID)
	}

	w := p.workerFor(chunk.SessionID)
	dropped, accepted := w.push(chunk)
	if dropped != nil {
		observability.RecordChunkOutcome(OutcomeDropped)
		p.deps.Quality.Observe(qa.Sample{Outcome: OutcomeDropped})
		p.deps.Emitter.EmitAck(chunk.SessionID, newAck(dropped, AckSuppressed, "queue full", p.depthOf(chunk.SessionID)))
	}
	// A shed chunk (the incoming one included) is overload, already reported
	// through the drop ack. An error here means the worker itself is gone.
	if !accepted && dropped == nil {
		return fmt.Errorf("worker for session %s is stopped", chunk.SessionID)
	}
	return nil
}

func (p *Pipeline) workerFor(sessionID string) *worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.workers[sessionID]; ok {
		return w
	}
	w := newWorker(sessionID, p.deps.QueueDepth)
	p.workers[sessionID] = w

	p.wg.Add(1)
	go p.run(w)
	return w
}

// depthOf reports the current queue depth for a session's worker
func (p *Pipeline) depthOf(sessionID string) int {
	p.mu.Lock()
	w, ok := p.workers[sessionID]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (p *Pipeline) run(w *worker) {
	defer p.wg.Done()
	for {
		chunk := w.pop()
		if chunk == nil {
			return
		}
		p.process(chunk)
	}
}

// handleEviction stops the session's worker; in-flight results for the
// evicted session are discarded by the per-stage liveness checks
func (p *Pipeline) handleEviction(sessionID string) {
	p.mu.Lock()
	w, ok := p.workers[sessionID]
	if ok {
		delete(p.workers, sessionID)
	}
	p.mu.Unlock()

	if ok {
		w.close()
	}
}

// Stop shuts down all workers and waits for them to drain
func (p *Pipeline) Stop() {
	p.cancel()

	p.mu.Lock()
	workers := make([]*worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.workers = make(map[string]*worker)
	p.mu.Unlock()

	for _, w := range workers {
		w.close()
	}
	p.wg.Wait()
}

func (p *Pipeline) process(chunk *Chunk) {
	start := time.Now()
	log := observability.WithChunk(p.logger, chunk.SessionID, chunk.ChunkID)
	// Stages downstream of the pipeline (the invoker's retry loop) pick the
	// correlation logger out of the context
	ctx := log.WithContext(p.ctx)

	s, ok := p.deps.Sessions.Get(chunk.SessionID)
	if !ok || s.Evicted() {
		observability.RecordChunkOutcome(OutcomeDiscarded)
		return
	}
	s.Touch()

	if chunk.EndOfStream {
		p.finishStream(chunk, log)
		return
	}

	normalized, err := p.deps.Normalizer.Normalize(chunk.Raw, chunk.Mime)
	if err != nil {
		log.Debug().Err(err).Int("bytes", len(chunk.Raw)).Msg("chunk failed normalization")
		p.finish(chunk, start, OutcomeInvalidAudio, nil)
		p.deps.Emitter.EmitError(chunk.SessionID, newError(chunk, KindInvalidAudio, err.Error(), 0))
		return
	}

	decision := p.deps.Gate.Evaluate(normalized)
	if !decision.Pass {
		log.Debug().
			Float64("energy", decision.Energy).
			Float64("confidence", decision.Confidence).
			Msg("chunk gated as non-speech")
		p.finish(chunk, start, OutcomeGated, nil)
		p.deps.Emitter.EmitAck(chunk.SessionID, newAck(chunk, AckNoSpeech, "", p.depthOf(chunk.SessionID)))
		return
	}

	result, err := p.deps.Invoker.Transcribe(ctx, chunk.ClientID, normalized.PCM)
	if err != nil {
		p.emitBackendError(chunk, s, err, log)
		p.finish(chunk, start, OutcomeBackendError, nil)
		return
	}

	var verdict filter.Verdict
	var sequence uint64
	live := s.WithState(func(st *session.State) {
		verdict = p.deps.Filter.Apply(st, result)
		if verdict.Accepted {
			sequence = st.NextSequence()
			if verdict.Final {
				st.AppendTranscript(result.Text)
			}
		}
	})
	if !live {
		// The session timed out while the backend call was in flight
		observability.RecordChunkOutcome(OutcomeDiscarded)
		return
	}

	if !verdict.Accepted {
		p.finish(chunk, start, OutcomeSuppressed, nil)
		p.deps.Emitter.EmitAck(chunk.SessionID, newAck(chunk, AckSuppressed, verdict.Reason, p.depthOf(chunk.SessionID)))
		return
	}

	latency := time.Since(start)
	event := NewTranscriptEvent(chunk.SessionID, chunk.ChunkID, sequence, result.Text, result.Confidence, verdict.Final, latency)
	p.deps.Emitter.EmitTranscript(chunk.SessionID, event)
	observability.RecordTranscriptEvent(eventKind(verdict.Final))
	p.finish(chunk, start, OutcomeAccepted, &qa.Sample{
		Outcome:    OutcomeAccepted,
		Latency:    latency,
		Confidence: result.Confidence,
		Final:      verdict.Final,
		Retries:    result.Retries,
	})

	if verdict.Final {
		if err := p.deps.Sessions.Persist(ctx, chunk.SessionID); err != nil {
			log.Warn().Err(err).Msg("failed to persist session after final segment")
		}
	}
}

// finish records the chunk outcome in metrics and the QA window
func (p *Pipeline) finish(chunk *Chunk, start time.Time, outcome string, sample *qa.Sample) {
	observability.RecordChunkOutcome(outcome)
	observability.RecordChunkLatency(time.Since(start).Seconds())
	if sample == nil {
		sample = &qa.Sample{Outcome: outcome}
	}
	sample.QueueDepth = p.depthOf(chunk.SessionID)
	p.deps.Quality.Observe(*sample)
}

func (p *Pipeline) finishStream(chunk *Chunk, log zerolog.Logger) {
	log.Info().Msg("end of stream")
	p.deps.Emitter.EmitAck(chunk.SessionID, newAck(chunk, AckStreamEnded, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.deps.Sessions.End(ctx, chunk.SessionID)
}

func (p *Pipeline) emitBackendError(chunk *Chunk, s *session.Session, err error, log zerolog.Logger) {
	var limitErr *ratelimit.LimitExceededError
	var blockedErr *ratelimit.ClientBlockedError

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		retryAfter := p.deps.Invoker.BreakerRetryAfter()
		log.Warn().Dur("retry_after", retryAfter).Msg("transcription rejected, circuit open")
		p.deps.Emitter.EmitError(chunk.SessionID, newError(chunk, KindCircuitOpen, "transcription backend unavailable", retryAfter))

	case errors.As(err, &limitErr):
		p.deps.Emitter.EmitError(chunk.SessionID, newError(chunk, KindRateLimited, err.Error(), limitErr.RetryAfter))

	case errors.As(err, &blockedErr):
		p.deps.Emitter.EmitError(chunk.SessionID, newError(chunk, KindRateLimited, err.Error(), 0))

	case resilience.IsFatal(err):
		log.Error().Err(err).Msg("fatal backend failure")
		s.WithState(func(st *session.State) { st.Status = session.StatusDegraded })
		p.deps.Emitter.EmitError(chunk.SessionID, newError(chunk, KindFatalBackend, err.Error(), 0))

	default:
		p.deps.Emitter.EmitError(chunk.SessionID, newError(chunk, KindTransientBackend, err.Error(), 0))
	}
}

func eventKind(final bool) string {
	if final {
		return "final"
	}
	return "interim"
}
