package audio

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidAudio is returned when a chunk cannot be decoded by any strategy,
// including the emergency path, or its size is out of bounds.
var ErrInvalidAudio = errors.New("invalid audio")

// NormalizedAudio is decoded PCM in the target format (16 kHz mono 16-bit)
type NormalizedAudio struct {
	PCM        []byte // little-endian 16-bit samples
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Samples decodes the PCM bytes back to int16 samples
func (n *NormalizedAudio) Samples() []int16 {
	samples, _ := BytesToSamples(n.PCM)
	return samples
}

// NormalizerConfig bounds and floors for the decode pipeline
type NormalizerConfig struct {
	MaxBytes   int
	MinBytes   int
	MinSeconds float64 // shortest output the emergency path may produce
}

// DefaultNormalizerConfig returns representative defaults
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		MaxBytes:   1 << 20,
		MinBytes:   64,
		MinSeconds: 0.05,
	}
}

// Normalizer converts arbitrary audio-container fragments into fixed-format
// PCM. It is a pure function over bytes: every strategy works on its own
// copy of the input so a failed attempt cannot corrupt a later one.
type Normalizer struct {
	config NormalizerConfig
}

// NewNormalizer creates a normalizer with the given bounds
func NewNormalizer(config NormalizerConfig) *Normalizer {
	return &Normalizer{config: config}
}

type decodeStrategy struct {
	name string
	fn   func(data []byte, mimeHint string) ([]int16, int, error)
}

// Normalize decodes raw chunk bytes into 16 kHz mono 16-bit PCM. Strategies
// are tried in order: container decode, forced-format reinterpretation,
// raw-stream reinterpretation, relaxed probe. If all fail, an emergency
// heuristic locates the most likely audio payload and wraps it as raw PCM.
func (n *Normalizer) Normalize(raw []byte, mimeHint string) (*NormalizedAudio, error) {
	if len(raw) < n.config.MinBytes {
		return nil, fmt.Errorf("%w: %d bytes is below the %d byte minimum", ErrInvalidAudio, len(raw), n.config.MinBytes)
	}
	if len(raw) > n.config.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrInvalidAudio, len(raw), n.config.MaxBytes)
	}

	minSamples := n.minSamples()

	strategies := []decodeStrategy{
		{"container", decodeContainer},
		{"forced_format", decodeForcedFormat},
		{"raw_pcm", decodeRawPCM},
		{"relaxed_probe", decodeRelaxedProbe},
	}

	for _, strategy := range strategies {
		// Isolated scratch copy per attempt
		scratch := make([]byte, len(raw))
		copy(scratch, raw)

		samples, rate, err := strategy.fn(scratch, mimeHint)
		if err != nil || len(samples) < minSamples {
			continue
		}
		return n.finish(samples, rate), nil
	}

	// Emergency path: heuristic offset scan, remainder treated as raw PCM16
	scratch := make([]byte, len(raw))
	copy(scratch, raw)
	samples, err := emergencyDecode(scratch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	if len(samples) < minSamples {
		return nil, fmt.Errorf("%w: emergency decode yielded %d samples, need %d", ErrInvalidAudio, len(samples), minSamples)
	}

	return n.finish(samples, TargetSampleRate), nil
}

func (n *Normalizer) minSamples() int {
	min := int(n.config.MinSeconds * float64(TargetSampleRate))
	if min < 1 {
		min = 1
	}
	return min
}

// finish converts decoded samples at the given rate into the target format
func (n *Normalizer) finish(samples []int16, sampleRate int) *NormalizedAudio {
	if sampleRate != TargetSampleRate {
		samples = Resample(samples, sampleRate, TargetSampleRate)
	}

	return &NormalizedAudio{
		PCM:        SamplesToBytes(samples),
		SampleRate: TargetSampleRate,
		Channels:   TargetChannels,
		BitDepth:   TargetBitDepth,
		Duration:   time.Duration(float64(len(samples)) / float64(TargetSampleRate) * float64(time.Second)),
	}
}

// decodeContainer is the plain container decode: a well-formed WAV at offset 0
func decodeContainer(data []byte, _ string) ([]int16, int, error) {
	samples, format, err := DecodeWAV(data)
	if err != nil {
		return nil, 0, err
	}
	if format.Channels > 1 {
		samples = Downmix(samples, format.Channels)
	}
	return samples, format.SampleRate, nil
}

// decodeForcedFormat reinterprets the payload according to the mime hint,
// ignoring whatever container framing (or lack of it) the bytes carry
func decodeForcedFormat(data []byte, mimeHint string) ([]int16, int, error) {
	hint := strings.ToLower(mimeHint)

	switch {
	case strings.Contains(hint, "mulaw") || strings.Contains(hint, "pcmu") || strings.Contains(hint, "g711"):
		// Telephony μ-law is 8 kHz single channel
		return MulawToSamples(data), 8000, nil

	case strings.Contains(hint, "l16") || strings.Contains(hint, "pcm"):
		rate := TargetSampleRate
		if strings.Contains(hint, "rate=8000") || strings.Contains(hint, "8khz") {
			rate = 8000
		} else if strings.Contains(hint, "rate=44100") {
			rate = 44100
		} else if strings.Contains(hint, "rate=48000") || strings.Contains(hint, "48khz") {
			rate = 48000
		}
		samples, err := BytesToSamples(data[:len(data)&^1])
		if err != nil {
			return nil, 0, err
		}
		return samples, rate, nil

	case strings.Contains(hint, "wav") || strings.Contains(hint, "wave"):
		// Hint says WAV but the container decode already failed; skip the
		// first 44 bytes in case the header is damaged and take the rest raw
		if len(data) <= 46 {
			return nil, 0, fmt.Errorf("wav payload too short to skip header")
		}
		body := data[44:]
		samples, err := BytesToSamples(body[:len(body)&^1])
		if err != nil {
			return nil, 0, err
		}
		return samples, TargetSampleRate, nil
	}

	return nil, 0, fmt.Errorf("no forced-format interpretation for hint %q", mimeHint)
}

// decodeRawPCM treats the whole payload as headerless 16-bit PCM at the
// target rate. A plausibility check keeps compressed-container garbage from
// being accepted here: real speech rarely slams against full scale.
func decodeRawPCM(data []byte, _ string) ([]int16, int, error) {
	samples, err := BytesToSamples(data[:len(data)&^1])
	if err != nil {
		return nil, 0, err
	}
	if len(samples) == 0 {
		return nil, 0, fmt.Errorf("empty payload")
	}

	if !plausiblePCM(samples) {
		return nil, 0, fmt.Errorf("payload does not look like linear PCM")
	}

	return samples, TargetSampleRate, nil
}

// decodeRelaxedProbe scans for a RIFF marker anywhere in the stream and
// decodes from there; covers payloads with leading transport framing
func decodeRelaxedProbe(data []byte, _ string) ([]int16, int, error) {
	offset := bytes.Index(data, []byte("RIFF"))
	if offset <= 0 {
		return nil, 0, fmt.Errorf("no embedded RIFF marker")
	}

	samples, format, err := DecodeWAV(data[offset:])
	if err != nil {
		return nil, 0, err
	}
	if format.Channels > 1 {
		samples = Downmix(samples, format.Channels)
	}
	return samples, format.SampleRate, nil
}

// plausiblePCM rejects reinterpretations where too many samples sit near
// full scale, which is what compressed or structured bytes decode to
func plausiblePCM(samples []int16) bool {
	const clipLevel = 30000
	clipped := 0
	for _, s := range samples {
		if s > clipLevel || s < -clipLevel {
			clipped++
		}
	}
	return float64(clipped)/float64(len(samples)) < 0.20
}

// emergencyDecode locates the most likely audio-data offset via a variance
// scan over fixed windows, skips to it, and treats the remainder as raw
// 16-bit PCM. Container headers and metadata have either near-zero or
// near-uniform variance; PCM speech sits in between.
func emergencyDecode(data []byte) ([]int16, error) {
	const window = 512

	if len(data) < window*2 {
		// Too short to scan; take the whole thing
		return BytesToSamples(data[:len(data)&^1])
	}

	bestOffset := 0
	bestScore := -1.0

	for offset := 0; offset+window <= len(data); offset += window {
		score := viewVariance(data[offset : offset+window])
		if score > bestScore {
			bestScore = score
			bestOffset = offset
		}
	}

	// Walk back to the first window that carries a meaningful share of the
	// peak variance so the skip lands at the start of the audio region
	threshold := bestScore * 0.25
	start := bestOffset
	for offset := 0; offset+window <= len(data); offset += window {
		if viewVariance(data[offset:offset+window]) >= threshold {
			start = offset
			break
		}
	}

	body := data[start:]
	return BytesToSamples(body[:len(body)&^1])
}

// viewVariance computes byte-level variance over a window
func viewVariance(window []byte) float64 {
	if len(window) == 0 {
		return 0
	}

	mean := 0.0
	for _, b := range window {
		mean += float64(b)
	}
	mean /= float64(len(window))

	variance := 0.0
	for _, b := range window {
		d := float64(b) - mean
		variance += d * d
	}
	return variance / float64(len(window))
}
