package transcription

import (
	"context"
	"time"
)

// Result represents one recognition result from the backend
type Result struct {
	// Text is the transcribed text
	Text string

	// Confidence is the confidence score (0.0 to 1.0)
	Confidence float64

	// IsFinal indicates the backend marked this as the completed output for
	// a segment rather than a provisional (interim) result
	IsFinal bool

	// Latency is the backend round-trip time
	Latency time.Duration

	// Retries counts how many failed attempts preceded this result
	Retries int
}

// Transcriber is the contract an external speech-to-text backend fulfils:
// normalized PCM in, text plus confidence out, error otherwise.
type Transcriber interface {
	// Transcribe converts 16 kHz mono 16-bit PCM into text
	Transcribe(ctx context.Context, pcm []byte) (*Result, error)
}
