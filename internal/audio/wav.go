package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVFormat describes the PCM layout declared by a decoded header
type WAVFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// EncodeWAV encodes PCM-16 mono samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)
	fileSize := 36 + dataSize

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     fileSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes PCM WAV data, returning the samples as declared by the
// header along with the declared format. Unlike a strict decoder it accepts
// any channel count and the common bit depths; callers convert to the target
// format afterwards.
func DecodeWAV(data []byte) ([]int16, WAVFormat, error) {
	var format WAVFormat

	if len(data) < 44 {
		return nil, format, fmt.Errorf("WAV data too short: need at least 44 bytes, got %d", len(data))
	}

	buf := bytes.NewReader(data)
	var header WAVHeader

	if err := binary.Read(buf, binary.LittleEndian, &header); err != nil {
		return nil, format, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		return nil, format, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(header.Format[:]) != "WAVE" {
		return nil, format, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(header.Subchunk1ID[:]) != "fmt " {
		return nil, format, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(header.Subchunk2ID[:]) != "data" {
		return nil, format, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if header.AudioFormat != 1 {
		return nil, format, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	if header.BitsPerSample != 8 && header.BitsPerSample != 16 {
		return nil, format, fmt.Errorf("unsupported bit depth: %d", header.BitsPerSample)
	}

	if header.NumChannels == 0 || header.NumChannels > 8 {
		return nil, format, fmt.Errorf("unsupported channel count: %d", header.NumChannels)
	}

	if header.SampleRate < 8000 || header.SampleRate > 192000 {
		return nil, format, fmt.Errorf("implausible sample rate: %d", header.SampleRate)
	}

	format = WAVFormat{
		SampleRate:    int(header.SampleRate),
		Channels:      int(header.NumChannels),
		BitsPerSample: int(header.BitsPerSample),
	}

	// Clamp the declared data size to what is actually present; truncated
	// uploads are common and the audible part is still worth keeping.
	available := len(data) - 44
	dataSize := int(header.Subchunk2Size)
	if dataSize > available {
		dataSize = available
	}
	if dataSize <= 0 {
		return nil, format, fmt.Errorf("no audio data found")
	}

	raw := data[44 : 44+dataSize]

	var samples []int16
	if header.BitsPerSample == 8 {
		// 8-bit WAV is unsigned; center and scale to 16-bit
		samples = make([]int16, len(raw))
		for i, b := range raw {
			samples[i] = (int16(b) - 128) << 8
		}
	} else {
		var err error
		samples, err = BytesToSamples(raw[:len(raw)&^1])
		if err != nil {
			return nil, format, err
		}
	}

	if len(samples) == 0 {
		return nil, format, fmt.Errorf("no audio data found")
	}

	return samples, format, nil
}
