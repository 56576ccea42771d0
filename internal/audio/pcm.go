package audio

import (
	"fmt"
	"math"
)

// Target format every chunk is normalized to before transcription.
const (
	TargetSampleRate = 16000
	TargetChannels   = 1
	TargetBitDepth   = 16
)

// BytesToSamples converts little-endian 16-bit PCM bytes to samples
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}

	samples := make([]int16, len(data)/2)
	for i := 0; i < len(samples); i++ {
		// Little-endian 16-bit signed integer
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// SamplesToBytes converts samples back to little-endian 16-bit PCM bytes
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, sample := range samples {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}
	return data
}

// Resample performs simple linear interpolation resampling
// This is a basic implementation - for production quality, consider sinc
// interpolation; linear is adequate for speech sent to an STT backend.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		// Calculate source position
		srcPos := float64(i) / ratio

		// Linear interpolation
		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// Downmix averages interleaved multi-channel samples into mono
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 || len(samples) == 0 {
		return samples
	}

	frames := len(samples) / channels
	output := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		output[i] = int16(sum / channels)
	}
	return output
}

// MulawToSamples decodes G.711 PCMU (μ-law) bytes to 16-bit linear PCM
func MulawToSamples(data []byte) []int16 {
	samples := make([]int16, len(data))
	for i, b := range data {
		samples[i] = mulawToLinear(b)
	}
	return samples
}

// mulawToLinear converts an 8-bit μ-law sample to 16-bit linear PCM
// (ITU-T G.711 standard)
func mulawToLinear(mulawByte byte) int16 {
	// Invert all bits first (μ-law uses inverted representation)
	mulawByte = ^mulawByte

	// Extract sign, segment, and mantissa
	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	// Reconstruct linear value: step = (mantissa << (segment+1)) + (33 << segment)
	step := mantissa << (segment + 1)
	step += int32(33) << segment
	magnitude := step - 33 // bias

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// ZeroCrossingRate returns the fraction of adjacent sample pairs whose sign
// differs. Voiced speech sits in a band between near-silence (very low) and
// broadband noise (very high).
func ZeroCrossingRate(samples []int16) float64 {
	if len(samples) < 2 {
		return 0.0
	}

	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}
