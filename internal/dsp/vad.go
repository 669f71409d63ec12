package dsp

// VADConfig holds voice activity detection parameters.
type VADConfig struct {
	Threshold    float64 `yaml:"threshold"`       // frame RMS threshold for speech
	FrameMs      int     `yaml:"frame_ms"`        // analysis frame size
	MinSpeechMs  int     `yaml:"min_speech_ms"`   // regions shorter than this are discarded
	MinSilenceMs int     `yaml:"min_silence_ms"`  // silence run required to close a region
}

// DefaultVADConfig returns defaults tuned for normalized 16 kHz speech.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Threshold:    0.015,
		FrameMs:      20,
		MinSpeechMs:  200,
		MinSilenceMs: 300,
	}
}

// SpeechRegion is a half-open sample interval [Start, End) flagged as
// containing voice energy.
type SpeechRegion struct {
	Start int
	End   int
}

// DetectVoice splits the buffer into fixed frames, marks each as speech or
// silence by RMS energy, and merges contiguous speech frames into regions.
// A region only closes after MinSilenceMs of quiet, so brief energy dips do
// not fragment an utterance, and regions shorter than MinSpeechMs are
// dropped. Returned regions are ordered and non-overlapping.
func DetectVoice(samples []float32, sampleRate int, cfg VADConfig) []SpeechRegion {
	if len(samples) == 0 || sampleRate <= 0 || cfg.FrameMs <= 0 {
		return nil
	}
	frame := sampleRate * cfg.FrameMs / 1000
	if frame <= 0 {
		return nil
	}
	minSpeech := sampleRate * cfg.MinSpeechMs / 1000
	minSilenceFrames := cfg.MinSilenceMs / cfg.FrameMs
	if minSilenceFrames < 1 {
		minSilenceFrames = 1
	}

	var regions []SpeechRegion
	start := -1
	lastSpeechEnd := 0
	silenceFrames := 0

	appendRegion := func(s, e int) {
		if e-s >= minSpeech {
			regions = append(regions, SpeechRegion{Start: s, End: e})
		}
	}

	for i := 0; i < len(samples); i += frame {
		end := i + frame
		if end > len(samples) {
			end = len(samples)
		}
		if rms(samples[i:end]) >= cfg.Threshold {
			if start < 0 {
				start = i
			}
			lastSpeechEnd = end
			silenceFrames = 0
			continue
		}
		if start < 0 {
			continue
		}
		silenceFrames++
		if silenceFrames >= minSilenceFrames {
			appendRegion(start, lastSpeechEnd)
			start = -1
			silenceFrames = 0
		}
	}
	if start >= 0 {
		appendRegion(start, lastSpeechEnd)
	}
	return regions
}
