package dsp

import "math"

// Resample converts samples from one rate to another using linear
// interpolation. For output index i the fractional source position is
// i*(from/to) and the result blends the two bracketing input samples.
// Matching rates are an identity operation.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(math.Round(float64(len(samples)) / ratio))
	if outLen <= 0 {
		return nil
	}

	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		s0 := sampleAt(samples, idx)
		s1 := sampleAt(samples, idx+1)
		out[i] = s0 + float32(frac)*(s1-s0)
	}
	return out
}

func sampleAt(samples []float32, idx int) float32 {
	if idx >= len(samples) {
		// Clamp to last sample.
		idx = len(samples) - 1
	}
	if idx < 0 {
		return 0
	}
	return samples[idx]
}
