// Package recog drives speech-recognition backends through bounded listening
// sessions. A backend consumes one utterance worth of PCM and emits a stream
// of updates; the session layer collapses that stream into a single best
// result with bilingual post-hoc language inference.
package recog

import "context"

// UpdateKind identifies one notification from a recognition backend.
type UpdateKind string

const (
	UpdateInterim   UpdateKind = "interim"
	UpdateSpeechEnd UpdateKind = "speech_end"
	UpdateFinal     UpdateKind = "final"
	UpdateError     UpdateKind = "error"
)

// Update is one backend notification. Interim updates may repeat; a stream
// carries at most one final. Backends signal session end by closing the
// channel.
type Update struct {
	Kind   UpdateKind
	Result Result
	Err    error
}

// Result is a recognized transcript.
type Result struct {
	Text         string
	Confidence   float64
	Alternatives []string
	IsFinal      bool
	Language     string
	NoSpeech     bool
}

// Options configure one recognition pass.
type Options struct {
	Language        string
	Fallbacks       []string
	Continuous      bool
	Interim         bool
	MaxAlternatives int
}

// BackendInfo describes a recognizer for engine selection.
type BackendInfo struct {
	ID       string
	Name     string
	Offline  bool
	Latency  string
	Accuracy string
}

// Recognizer abstracts a speech-to-text backend. Recognize returns a stream
// that emits zero or more interim updates followed by exactly one final
// update or a terminal error, then closes. Cancelling ctx stops the pass;
// the backend still closes the stream.
type Recognizer interface {
	Recognize(ctx context.Context, pcm []float32, sampleRate int, opts Options) (<-chan Update, error)
	Info() BackendInfo
	Probe(ctx context.Context) error
	Close() error
}
