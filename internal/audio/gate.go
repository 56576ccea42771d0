package audio

// GateConfig holds configuration for the speech activity gate. All values
// are tunable; the defaults are conservative enough to pass quiet speech.
type GateConfig struct {
	ConfidenceThreshold float64 // blended confidence needed to pass
	EnergyFloor         float64 // per-frame RMS floor for a voice frame
	AbsoluteEnergy      float64 // chunk-level RMS that passes regardless
	MinZCR              float64 // lower bound of the voice-typical ZCR band
	MaxZCR              float64 // upper bound of the voice-typical ZCR band
	FrameSize           int     // samples per analysis frame (~30 ms)
}

// DefaultGateConfig returns a default gate configuration
func DefaultGateConfig() GateConfig {
	return GateConfig{
		ConfidenceThreshold: 0.35,
		EnergyFloor:         250.0,
		AbsoluteEnergy:      120.0,
		MinZCR:              0.02,
		MaxZCR:              0.35,
		FrameSize:           480, // 30ms at 16kHz
	}
}

// SpeechDecision is the gate verdict for one normalized chunk
type SpeechDecision struct {
	Energy     float64 // overall chunk RMS
	VoiceRatio float64 // fraction of frames classified as voice
	Confidence float64 // blended score in [0,1]
	Pass       bool
}

// rmsScaleRef maps chunk RMS onto [0,1] for the confidence blend; speech at
// a normal recording level sits around 1000-4000 RMS in 16-bit PCM.
const rmsScaleRef = 3000.0

// Gate is a pure, stateless speech classifier. It splits a chunk into fixed
// frames and blends overall energy with the voice-frame ratio.
type Gate struct {
	config GateConfig
}

// NewGate creates a speech activity gate
func NewGate(config GateConfig) *Gate {
	if config.FrameSize <= 0 {
		config.FrameSize = DefaultGateConfig().FrameSize
	}
	return &Gate{config: config}
}

// Evaluate classifies a normalized chunk. A chunk passes when the blended
// confidence clears the threshold, or when raw energy alone clears a lower
// absolute floor (quiet but present speech).
func (g *Gate) Evaluate(na *NormalizedAudio) SpeechDecision {
	samples := na.Samples()
	if len(samples) == 0 {
		return SpeechDecision{}
	}

	overallRMS := CalculateRMS(samples)

	voiceFrames := 0
	totalFrames := 0
	for start := 0; start+g.config.FrameSize <= len(samples); start += g.config.FrameSize {
		frame := samples[start : start+g.config.FrameSize]
		totalFrames++
		if g.isVoiceFrame(frame) {
			voiceFrames++
		}
	}
	// Short chunks that fit no full frame are judged as a single frame
	if totalFrames == 0 {
		totalFrames = 1
		if g.isVoiceFrame(samples) {
			voiceFrames = 1
		}
	}

	voiceRatio := float64(voiceFrames) / float64(totalFrames)

	scaledRMS := overallRMS / rmsScaleRef
	if scaledRMS > 1.0 {
		scaledRMS = 1.0
	}

	confidence := 0.6*scaledRMS + 0.4*voiceRatio

	pass := confidence > g.config.ConfidenceThreshold || overallRMS > g.config.AbsoluteEnergy

	return SpeechDecision{
		Energy:     overallRMS,
		VoiceRatio: voiceRatio,
		Confidence: confidence,
		Pass:       pass,
	}
}

// isVoiceFrame: energy above the floor AND zero-crossing rate inside the
// voice band (neither silence nor broadband noise)
func (g *Gate) isVoiceFrame(frame []int16) bool {
	if CalculateRMS(frame) <= g.config.EnergyFloor {
		return false
	}
	zcr := ZeroCrossingRate(frame)
	return zcr >= g.config.MinZCR && zcr <= g.config.MaxZCR
}
