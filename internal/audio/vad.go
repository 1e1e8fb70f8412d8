package audio

import "fmt"

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Consecutive silence frames that end an utterance
	FrameSize       int     // Samples per frame (20ms: 160 at 8kHz)
}

// DefaultVADConfig returns the configuration for the 8kHz telephony channel
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10, // 200ms
		FrameSize:       160,
	}
}

// VADConfigForRate returns a config with 20ms frames at the given sample rate.
func VADConfigForRate(sampleRate int, threshold float64, silenceFrames int) *VADConfig {
	return &VADConfig{
		EnergyThreshold: threshold,
		SilenceFrames:   silenceFrames,
		FrameSize:       FrameSizeFor(sampleRate),
	}
}

// FrameSizeFor returns the number of samples in a 20ms frame
func FrameSizeFor(sampleRate int) int {
	size := sampleRate / 50
	if size < 1 {
		return 1
	}
	return size
}

// Validate checks the config for values that would stall detection
func (c *VADConfig) Validate() error {
	if c.FrameSize <= 0 {
		return fmt.Errorf("vad frame size must be positive, got %d", c.FrameSize)
	}
	if c.SilenceFrames <= 0 {
		return fmt.Errorf("vad silence frames must be positive, got %d", c.SilenceFrames)
	}
	if c.EnergyThreshold < 0 {
		return fmt.Errorf("vad energy threshold must not be negative, got %f", c.EnergyThreshold)
	}
	return nil
}

// VADResult is the outcome of one processed frame
type VADResult struct {
	Speaking bool    // inside an utterance after this frame
	Started  bool    // this frame opened an utterance
	Ended    bool    // this frame closed an utterance
	RMS      float64 // frame energy
}

// VADDetector performs Voice Activity Detection
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// Config returns the detector configuration
func (v *VADDetector) Config() *VADConfig {
	return v.config
}

// ProcessFrame classifies one frame. Silence inside an utterance keeps
// Speaking true until SilenceFrames consecutive quiet frames are seen.
func (v *VADDetector) ProcessFrame(samples []int16) VADResult {
	rms := CalculateRMS(samples)
	result := VADResult{RMS: rms}

	if rms > v.config.EnergyThreshold {
		v.silenceCounter = 0
		if !v.isSpeaking {
			result.Started = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			result.Ended = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	result.Speaking = v.isSpeaking
	return result
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// DetectSilence reports whether samples stay under the energy threshold
func DetectSilence(samples []int16, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}
