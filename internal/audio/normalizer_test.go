package audio

import (
	"errors"
	"math"
	"testing"
)

func sineSamples(freq float64, amplitude float64, rate, n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return samples
}

func TestNormalize_WAVContainer(t *testing.T) {
	normalizer := NewNormalizer(DefaultNormalizerConfig())

	// 8 kHz mono WAV should be resampled up to the target rate
	samples := sineSamples(440, 8000, 8000, 4000) // 0.5s
	wav, err := EncodeWAV(samples, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	na, err := normalizer.Normalize(wav, "audio/wav")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if na.SampleRate != TargetSampleRate || na.Channels != 1 || na.BitDepth != 16 {
		t.Errorf("Expected 16kHz mono 16-bit, got %d/%d/%d", na.SampleRate, na.Channels, na.BitDepth)
	}

	got := len(na.Samples())
	if got < 7900 || got > 8100 {
		t.Errorf("Expected ~8000 samples after resampling, got %d", got)
	}
}

func TestNormalize_ForcedMulaw(t *testing.T) {
	normalizer := NewNormalizer(DefaultNormalizerConfig())

	// Headerless μ-law bytes with a telephony mime hint
	payload := make([]byte, 4000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	na, err := normalizer.Normalize(payload, "audio/mulaw")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	// 4000 μ-law samples at 8kHz resampled to 16kHz
	got := len(na.Samples())
	if got < 7900 || got > 8100 {
		t.Errorf("Expected ~8000 samples, got %d", got)
	}
}

func TestNormalize_RawPCMReinterpretation(t *testing.T) {
	normalizer := NewNormalizer(DefaultNormalizerConfig())

	// Headerless 16-bit PCM with no useful hint falls through to the
	// raw-stream reinterpretation
	samples := sineSamples(440, 8000, TargetSampleRate, 8000)
	payload := SamplesToBytes(samples)

	na, err := normalizer.Normalize(payload, "application/octet-stream")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if len(na.Samples()) != len(samples) {
		t.Errorf("Expected %d samples, got %d", len(samples), len(na.Samples()))
	}
}

func TestNormalize_RelaxedProbe(t *testing.T) {
	normalizer := NewNormalizer(DefaultNormalizerConfig())

	// Clipped-looking framing ahead of an embedded WAV: the raw
	// reinterpretation rejects it, the probe finds the RIFF marker
	samples := sineSamples(440, 8000, TargetSampleRate, 2000)
	wav, err := EncodeWAV(samples, TargetSampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	prefix := make([]byte, 4000)
	for i := 0; i < len(prefix); i += 2 {
		prefix[i] = 0xFF
		prefix[i+1] = 0x7F // reads as +32767 when taken as raw PCM
	}

	payload := append(prefix, wav...)

	na, err := normalizer.Normalize(payload, "")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if len(na.Samples()) != len(samples) {
		t.Errorf("Expected %d samples from embedded WAV, got %d", len(samples), len(na.Samples()))
	}
}

func TestNormalize_EmergencyPath(t *testing.T) {
	normalizer := NewNormalizer(DefaultNormalizerConfig())

	// No container, no hint, and enough full-scale samples to fail the raw
	// plausibility check: only the emergency scan is left
	clipped := make([]byte, 6000)
	for i := 0; i < len(clipped); i += 2 {
		clipped[i] = 0xFF
		clipped[i+1] = 0x7F
	}
	speech := SamplesToBytes(sineSamples(440, 8000, TargetSampleRate, 3000))
	payload := append(clipped, speech...)

	na, err := normalizer.Normalize(payload, "")
	if err != nil {
		t.Fatalf("Expected emergency decode to succeed, got %v", err)
	}

	if len(na.Samples()) < normalizer.minSamples() {
		t.Errorf("Emergency output below minimum duration: %d samples", len(na.Samples()))
	}
}

func TestNormalize_SizeBounds(t *testing.T) {
	normalizer := NewNormalizer(NormalizerConfig{
		MaxBytes:   1024,
		MinBytes:   64,
		MinSeconds: 0.01,
	})

	if _, err := normalizer.Normalize(make([]byte, 10), ""); !errors.Is(err, ErrInvalidAudio) {
		t.Errorf("Expected ErrInvalidAudio for undersized chunk, got %v", err)
	}

	if _, err := normalizer.Normalize(make([]byte, 4096), ""); !errors.Is(err, ErrInvalidAudio) {
		t.Errorf("Expected ErrInvalidAudio for oversized chunk, got %v", err)
	}
}

func TestNormalize_TooShortForMinDuration(t *testing.T) {
	config := DefaultNormalizerConfig()
	config.MinSeconds = 1.0 // 16000 samples
	normalizer := NewNormalizer(config)

	// 2000 samples of valid PCM: every strategy yields fewer samples than
	// the floor and the emergency output is rejected too
	payload := SamplesToBytes(sineSamples(440, 8000, TargetSampleRate, 2000))

	if _, err := normalizer.Normalize(payload, ""); !errors.Is(err, ErrInvalidAudio) {
		t.Errorf("Expected ErrInvalidAudio for sub-minimum duration, got %v", err)
	}
}

func TestWAV_EncodeDecodeRoundTrip(t *testing.T) {
	samples := sineSamples(440, 8000, TargetSampleRate, 1600)

	wav, err := EncodeWAV(samples, TargetSampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, format, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if format.SampleRate != TargetSampleRate || format.Channels != 1 || format.BitsPerSample != 16 {
		t.Errorf("Unexpected format: %+v", format)
	}

	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}

	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("Sample mismatch at %d: %d != %d", i, decoded[i], samples[i])
		}
	}
}

func TestResample_HalvesAndDoubles(t *testing.T) {
	samples := sineSamples(440, 8000, TargetSampleRate, 1600)

	down := Resample(samples, 16000, 8000)
	if len(down) != 800 {
		t.Errorf("Expected 800 samples after downsampling, got %d", len(down))
	}

	up := Resample(samples, 8000, 16000)
	if len(up) != 3200 {
		t.Errorf("Expected 3200 samples after upsampling, got %d", len(up))
	}
}

func TestDownmix_Stereo(t *testing.T) {
	// L=1000, R=3000 interleaved
	stereo := make([]int16, 200)
	for i := 0; i < len(stereo); i += 2 {
		stereo[i] = 1000
		stereo[i+1] = 3000
	}

	mono := Downmix(stereo, 2)
	if len(mono) != 100 {
		t.Fatalf("Expected 100 mono samples, got %d", len(mono))
	}
	for i, s := range mono {
		if s != 2000 {
			t.Fatalf("Expected averaged sample 2000 at %d, got %d", i, s)
		}
	}
}
