package dsp

import "math"

// HighPass removes energy below cutoffHz with a second-order biquad filter
// (standard RBJ high-pass design), applied as a direct-form recursive pass
// over the buffer. Used at 80 Hz to suppress rumble and handling noise.
func HighPass(samples []float32, sampleRate int, cutoffHz, q float64) []float32 {
	if len(samples) == 0 || sampleRate <= 0 || cutoffHz <= 0 || cutoffHz >= float64(sampleRate)/2 {
		return samples
	}
	if q <= 0 {
		q = 0.707
	}

	omega := 2 * math.Pi * cutoffHz / float64(sampleRate)
	cosw := math.Cos(omega)
	alpha := math.Sin(omega) / (2 * q)

	b0 := (1 + cosw) / 2
	b1 := -(1 + cosw)
	b2 := (1 + cosw) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw
	a2 := 1 - alpha

	// Normalize by a0.
	b0 /= a0
	b1 /= a0
	b2 /= a0
	a1 /= a0
	a2 /= a0

	out := make([]float32, len(samples))
	var x1, x2, y1, y2 float64
	for i, s := range samples {
		x := float64(s)
		y := b0*x + b1*x1 + b2*x2 - a1*y1 - a2*y2
		x2, x1 = x1, x
		y2, y1 = y1, y
		out[i] = float32(y)
	}
	return out
}
