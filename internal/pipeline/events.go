package pipeline

import "time"

// Chunk is one unit of inbound audio, carried from the transport to a
// session worker
type Chunk struct {
	SessionID      string
	ChunkID        string
	ClientID       string // rate-limit identity of the session's owner
	ClientSequence uint64
	ClientTS       int64
	Raw            []byte
	Mime           string
	EndOfStream    bool
	Received       time.Time
}

// Error kinds surfaced to clients in error events
const (
	KindInvalidAudio     = "invalid_audio"
	KindTransientBackend = "transient_backend"
	KindFatalBackend     = "fatal_backend"
	KindCircuitOpen      = "circuit_open"
	KindRateLimited      = "rate_limited"
)

// Ack statuses for chunks that completed without a transcript
const (
	AckNoSpeech    = "no_speech"
	AckSuppressed  = "suppressed"
	AckStreamEnded = "stream_ended"
)

// TranscriptEvent carries an accepted transcription result to the client
type TranscriptEvent struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"session_id"`
	ChunkID    string  `json:"chunk_id"`
	Sequence   uint64  `json:"sequence"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
	LatencyMs  int64   `json:"latency_ms"`
}

// AckEvent tells the client a chunk was handled but produced no transcript
type AckEvent struct {
	Type           string `json:"type"`
	ChunkID        string `json:"chunk_id"`
	ClientSequence uint64 `json:"client_sequence"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	QueueDepth     int    `json:"queue_depth"`
}

// ErrorEvent reports a chunk that could not be processed
type ErrorEvent struct {
	Type         string `json:"type"`
	ChunkID      string `json:"chunk_id,omitempty"`
	Kind         string `json:"kind"`
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

// Emitter delivers pipeline output back to whatever owns the client
// connection. Implementations must not block for long; the worker calls
// these inline.
type Emitter interface {
	EmitTranscript(sessionID string, event TranscriptEvent)
	EmitAck(sessionID string, event AckEvent)
	EmitError(sessionID string, event ErrorEvent)
}

// NewTranscriptEvent fills in the envelope type tag
func NewTranscriptEvent(sessionID, chunkID string, sequence uint64, text string, confidence float64, final bool, latency time.Duration) TranscriptEvent {
	return TranscriptEvent{
		Type:       "transcript_event",
		SessionID:  sessionID,
		ChunkID:    chunkID,
		Sequence:   sequence,
		Text:       text,
		Confidence: confidence,
		IsFinal:    final,
		LatencyMs:  latency.Milliseconds(),
	}
}

func newAck(chunk *Chunk, status, reason string, queueDepth int) AckEvent {
	return AckEvent{
		Type:           "ack",
		ChunkID:        chunk.ChunkID,
		ClientSequence: chunk.ClientSequence,
		Status:         status,
		Reason:         reason,
		QueueDepth:     queueDepth,
	}
}

func newError(chunk *Chunk, kind, message string, retryAfter time.Duration) ErrorEvent {
	return ErrorEvent{
		Type:         "error_event",
		ChunkID:      chunk.ChunkID,
		Kind:         kind,
		Message:      message,
		RetryAfterMs: retryAfter.Milliseconds(),
	}
}
