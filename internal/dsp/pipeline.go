// Package dsp implements the audio preprocessing pipeline that turns a raw
// capture buffer into a canonical 16 kHz mono signal ready for recognition:
// downmix, resample, high-pass, noise gate, peak normalization, voice
// activity detection and silence trimming. Every stage is a pure function of
// its input and the pipeline configuration.
package dsp

import (
	"math"
	"time"
)

// Config holds every tunable of the preprocessing pipeline.
type Config struct {
	TargetSampleRate int     `yaml:"target_sample_rate"`
	HighPassCutoffHz float64 `yaml:"high_pass_cutoff_hz"`
	HighPassQ        float64 `yaml:"high_pass_q"`
	NoiseWindowMs    int     `yaml:"noise_window_ms"`
	NoiseGateRatio   float64 `yaml:"noise_gate_ratio"`
	NormalizeTarget  float64 `yaml:"normalize_target"`
	TrimPadMs        int     `yaml:"trim_pad_ms"`
	VAD              VADConfig `yaml:"vad"`
}

// DefaultConfig returns the pipeline defaults: 16 kHz target, 80 Hz rumble
// cutoff, 100 ms noise estimation window, and a -1 dBFS normalization
// ceiling.
func DefaultConfig() Config {
	return Config{
		TargetSampleRate: 16000,
		HighPassCutoffHz: 80,
		HighPassQ:        0.707,
		NoiseWindowMs:    100,
		NoiseGateRatio:   2.0,
		NormalizeTarget:  math.Pow(10, -1.0/20), // -1 dBFS
		TrimPadMs:        50,
		VAD:              DefaultVADConfig(),
	}
}

// ProcessedAudio is the immutable output of a full pipeline run.
type ProcessedAudio struct {
	Samples     []float32
	SampleRate  int
	Duration    time.Duration
	HasSpeech   bool
	SpeechRatio float64
	TrimmedHead int
	TrimmedTail int
	RMS         float64
	Peak        float64
}

// Pipeline applies the fixed preprocessing stage order.
type Pipeline struct {
	cfg Config
}

func NewPipeline(cfg Config) *Pipeline {
	if cfg.TargetSampleRate <= 0 {
		cfg.TargetSampleRate = 16000
	}
	return &Pipeline{cfg: cfg}
}

// Process runs the full pipeline over an interleaved sample buffer.
func (p *Pipeline) Process(samples []float32, fromRate, channels int) ProcessedAudio {
	mono := Downmix(samples, channels)
	resampled := Resample(mono, fromRate, p.cfg.TargetSampleRate)
	filtered := HighPass(resampled, p.cfg.TargetSampleRate, p.cfg.HighPassCutoffHz, p.cfg.HighPassQ)
	gated := ReduceNoise(filtered, p.cfg.TargetSampleRate, p.cfg.NoiseWindowMs, p.cfg.NoiseGateRatio)
	normalized := Normalize(gated, p.cfg.NormalizeTarget)

	regions := DetectVoice(normalized, p.cfg.TargetSampleRate, p.cfg.VAD)
	trimmed, head, tail := Trim(normalized, regions, p.cfg.TargetSampleRate, p.cfg.TrimPadMs)

	var speechSamples int
	for _, r := range regions {
		speechSamples += r.End - r.Start
	}
	ratio := 0.0
	if len(normalized) > 0 {
		ratio = float64(speechSamples) / float64(len(normalized))
	}

	return ProcessedAudio{
		Samples:     trimmed,
		SampleRate:  p.cfg.TargetSampleRate,
		Duration:    sampleDuration(len(trimmed), p.cfg.TargetSampleRate),
		HasSpeech:   len(regions) > 0,
		SpeechRatio: ratio,
		TrimmedHead: head,
		TrimmedTail: tail,
		RMS:         rms(trimmed),
		Peak:        peak(trimmed),
	}
}

// ProcessFast only normalizes, for latency-sensitive live use.
func (p *Pipeline) ProcessFast(samples []float32) []float32 {
	return Normalize(samples, p.cfg.NormalizeTarget)
}

// Downmix averages interleaved multi-channel samples into mono. A mono or
// degenerate channel count passes through untouched.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ReduceNoise applies a soft gate against a noise floor estimated from the
// RMS of the leading window. Samples below ratio*floor are attenuated
// proportionally. The leading window is assumed to be representative
// silence; buffers that open with speech will over-estimate the floor.
func ReduceNoise(samples []float32, sampleRate, windowMs int, ratio float64) []float32 {
	if len(samples) == 0 || ratio <= 0 {
		return samples
	}
	window := sampleRate * windowMs / 1000
	if window <= 0 || window > len(samples) {
		window = len(samples)
	}
	floor := rms(samples[:window])
	threshold := ratio * floor
	if threshold <= 0 {
		return samples
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		mag := math.Abs(float64(s))
		if mag < threshold {
			out[i] = s * float32(mag/threshold)
		} else {
			out[i] = s
		}
	}
	return out
}

// Normalize scales the buffer so its peak hits target, clamping into
// [-1, 1]. An all-zero buffer is returned unchanged.
func Normalize(samples []float32, target float64) []float32 {
	pk := peak(samples)
	if pk == 0 || target <= 0 {
		return samples
	}
	gain := float32(target / pk)
	out := make([]float32, len(samples))
	for i, s := range samples {
		v := s * gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = v
	}
	return out
}

// Trim cuts leading and trailing non-speech, keeping padMs of context around
// the outermost regions. With no detected speech the input is returned
// unchanged with zero trim counts.
func Trim(samples []float32, regions []SpeechRegion, sampleRate, padMs int) ([]float32, int, int) {
	if len(regions) == 0 {
		return samples, 0, 0
	}
	pad := sampleRate * padMs / 1000
	start := regions[0].Start - pad
	if start < 0 {
		start = 0
	}
	end := regions[len(regions)-1].End + pad
	if end > len(samples) {
		end = len(samples)
	}
	return samples[start:end], start, len(samples) - end
}

func sampleDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(rate) * float64(time.Second))
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func peak(samples []float32) float64 {
	var pk float64
	for _, s := range samples {
		if m := math.Abs(float64(s)); m > pk {
			pk = m
		}
	}
	return pk
}
