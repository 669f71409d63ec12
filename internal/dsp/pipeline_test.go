package dsp

import (
	"math"
	"testing"
)

func tone(freqHz float64, amplitude float64, sampleRate, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestResampleLength(t *testing.T) {
	cases := []struct {
		name     string
		inLen    int
		from, to int
		want     int
	}{
		{"44100_to_16000", 44100, 44100, 16000, 16000},
		{"48000_to_16000", 48000, 48000, 16000, 16000},
		{"8000_to_16000", 8000, 8000, 16000, 16000},
		{"odd_length", 1001, 44100, 16000, 363},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Resample(make([]float32, tc.inLen), tc.from, tc.to)
			if len(out) != tc.want {
				t.Fatalf("expected %d samples, got %d", tc.want, len(out))
			}
		})
	}
}

func TestResampleIdentity(t *testing.T) {
	in := tone(440, 0.5, 16000, 1600)
	out := Resample(in, 16000, 16000)
	if len(out) != len(in) {
		t.Fatalf("identity resample changed length: %d != %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("identity resample changed sample %d", i)
		}
	}
}

func TestNormalizePeak(t *testing.T) {
	target := DefaultConfig().NormalizeTarget
	in := tone(200, 0.2, 16000, 1600)
	out := Normalize(in, target)
	if got := peak(out); math.Abs(got-target) > 1e-3 {
		t.Fatalf("expected peak near %f, got %f", target, got)
	}
}

func TestNormalizeSilence(t *testing.T) {
	in := make([]float32, 1000)
	out := Normalize(in, 0.9)
	for i := range out {
		if out[i] != 0 {
			t.Fatalf("normalizing silence must be a no-op, sample %d changed", i)
		}
	}
}

func TestDownmixStereo(t *testing.T) {
	in := []float32{1, 0, 0.5, 0.5, -1, 1}
	out := Downmix(in, 2)
	want := []float32{0.5, 0.5, 0}
	if len(out) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(out))
	}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-6 {
			t.Fatalf("frame %d: expected %f, got %f", i, want[i], out[i])
		}
	}
}

func TestDetectVoiceRegions(t *testing.T) {
	const rate = 16000
	cfg := DefaultVADConfig()

	// 300ms silence, 400ms speech, 500ms silence, 300ms speech, 200ms silence.
	var buf []float32
	buf = append(buf, make([]float32, rate*300/1000)...)
	buf = append(buf, tone(300, 0.5, rate, rate*400/1000)...)
	buf = append(buf, make([]float32, rate*500/1000)...)
	buf = append(buf, tone(300, 0.5, rate, rate*300/1000)...)
	buf = append(buf, make([]float32, rate*200/1000)...)

	regions := DetectVoice(buf, rate, cfg)
	if len(regions) != 2 {
		t.Fatalf("expected 2 regions, got %d: %v", len(regions), regions)
	}
	minSpeech := rate * cfg.MinSpeechMs / 1000
	prevEnd := 0
	for i, r := range regions {
		if r.Start < prevEnd {
			t.Fatalf("region %d overlaps or is out of order: %v", i, regions)
		}
		if r.End-r.Start < minSpeech {
			t.Fatalf("region %d shorter than minimum speech duration: %v", i, r)
		}
		prevEnd = r.End
	}
}

func TestDetectVoiceHysteresis(t *testing.T) {
	const rate = 16000
	cfg := DefaultVADConfig()

	// Speech with a 100ms dip in the middle: shorter than MinSilenceMs, so
	// the region must not fragment.
	var buf []float32
	buf = append(buf, tone(300, 0.5, rate, rate*300/1000)...)
	buf = append(buf, make([]float32, rate*100/1000)...)
	buf = append(buf, tone(300, 0.5, rate, rate*300/1000)...)

	regions := DetectVoice(buf, rate, cfg)
	if len(regions) != 1 {
		t.Fatalf("expected a single region across the dip, got %d: %v", len(regions), regions)
	}
}

func TestTrimNoSpeech(t *testing.T) {
	in := make([]float32, 1000)
	out, head, tail := Trim(in, nil, 16000, 50)
	if len(out) != len(in) || head != 0 || tail != 0 {
		t.Fatalf("no-speech trim must return input unchanged, got len=%d head=%d tail=%d", len(out), head, tail)
	}
}

func TestTrimBounds(t *testing.T) {
	const rate = 16000
	in := make([]float32, rate) // 1s
	regions := []SpeechRegion{{Start: rate * 300 / 1000, End: rate * 700 / 1000}}
	out, head, tail := Trim(in, regions, rate, 50)
	if len(out) > len(in) {
		t.Fatalf("trim produced a longer buffer: %d > %d", len(out), len(in))
	}
	pad := rate * 50 / 1000
	if head != regions[0].Start-pad {
		t.Fatalf("expected head trim %d, got %d", regions[0].Start-pad, head)
	}
	if tail != len(in)-(regions[0].End+pad) {
		t.Fatalf("expected tail trim %d, got %d", len(in)-(regions[0].End+pad), tail)
	}
	if head+len(out)+tail != len(in) {
		t.Fatalf("trim counts inconsistent: %d+%d+%d != %d", head, len(out), tail, len(in))
	}
}

func TestProcessSilentStereoBuffer(t *testing.T) {
	// 44.1kHz, 2 channel, 1 second of silence through the full pipeline.
	p := NewPipeline(DefaultConfig())
	in := make([]float32, 44100*2)
	out := p.Process(in, 44100, 2)

	if out.HasSpeech {
		t.Fatal("silent buffer reported speech")
	}
	if len(out.Samples) != 16000 {
		t.Fatalf("expected 16000 samples after resample, got %d", len(out.Samples))
	}
	if out.TrimmedHead != 0 || out.TrimmedTail != 0 {
		t.Fatalf("expected zero trim counts, got head=%d tail=%d", out.TrimmedHead, out.TrimmedTail)
	}
	if out.SampleRate != 16000 {
		t.Fatalf("expected 16kHz output, got %d", out.SampleRate)
	}
}

func TestProcessSpokenBuffer(t *testing.T) {
	const rate = 44100
	p := NewPipeline(DefaultConfig())

	var buf []float32
	buf = append(buf, make([]float32, rate*400/1000)...)
	buf = append(buf, tone(250, 0.4, rate, rate*600/1000)...)
	buf = append(buf, make([]float32, rate*400/1000)...)

	out := p.Process(buf, rate, 1)
	if !out.HasSpeech {
		t.Fatal("expected speech to be detected")
	}
	if out.TrimmedHead == 0 && out.TrimmedTail == 0 {
		t.Fatal("expected leading/trailing silence to be trimmed")
	}
	if out.SpeechRatio <= 0 || out.SpeechRatio > 1 {
		t.Fatalf("speech ratio out of range: %f", out.SpeechRatio)
	}
	if len(out.Samples) > 16000*14/10 {
		t.Fatalf("trimmed output longer than input: %d", len(out.Samples))
	}
}

func TestHighPassRemovesDC(t *testing.T) {
	const rate = 16000
	in := make([]float32, rate)
	for i := range in {
		in[i] = 0.5 // pure DC offset
	}
	out := HighPass(in, rate, 80, 0.707)
	// Skip the settle period, then the filter must have killed the offset.
	var sum float64
	settled := out[rate/2:]
	for _, s := range settled {
		sum += math.Abs(float64(s))
	}
	if mean := sum / float64(len(settled)); mean > 0.01 {
		t.Fatalf("high-pass left DC offset, mean magnitude %f", mean)
	}
}

func TestReduceNoiseAttenuatesFloor(t *testing.T) {
	const rate = 16000
	var buf []float32
	buf = append(buf, tone(200, 0.01, rate, rate*200/1000)...) // steady hiss
	buf = append(buf, tone(250, 0.5, rate, rate*200/1000)...)  // speech-level tone

	out := ReduceNoise(buf, rate, 100, 2.0)
	hissIn := rms(buf[:rate*200/1000])
	hissOut := rms(out[:rate*200/1000])
	if hissOut >= hissIn {
		t.Fatalf("noise floor not attenuated: %f >= %f", hissOut, hissIn)
	}
	loudIn := rms(buf[rate*200/1000:])
	loudOut := rms(out[rate*200/1000:])
	if math.Abs(loudIn-loudOut) > loudIn*0.05 {
		t.Fatalf("speech-level signal was attenuated: %f -> %f", loudIn, loudOut)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	in := tone(440, 0.5, 16000, 1600)
	encoded := EncodeWAV(in, 16000)
	if len(encoded) != 44+len(in)*2 {
		t.Fatalf("unexpected wav size %d", len(encoded))
	}
	out, rate, err := DecodeWAV(encoded)
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if rate != 16000 {
		t.Fatalf("expected 16000 rate, got %d", rate)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 1.0/32000 {
			t.Fatalf("sample %d drifted: %f -> %f", i, in[i], out[i])
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("not a wav")); err == nil {
		t.Fatal("expected error for short buffer")
	}
	bad := EncodeWAV(make([]float32, 100), 16000)
	copy(bad[0:4], "JUNK")
	if _, _, err := DecodeWAV(bad); err == nil {
		t.Fatal("expected error for wrong magic")
	}
}
