package recog

import (
	"context"
	"time"

	"github.com/falalabs/fala-core/internal/faults"
)

// MockScript drives the deterministic recognizer used by tests and
// development setups without a model or network.
type MockScript struct {
	Interims     []string
	Final        string
	Confidence   float64
	Alternatives []string
	NoSpeech     bool
	Err          error
	// SkipFinal ends the session after interims without a final result.
	SkipFinal bool
	// Delay is inserted before each update.
	Delay time.Duration
}

type mockRecognizer struct {
	script MockScript
}

func NewMockRecognizer(script MockScript) Recognizer {
	return &mockRecognizer{script: script}
}

func (m *mockRecognizer) Info() BackendInfo {
	return BackendInfo{
		ID:       "mock",
		Name:     "scripted recognizer",
		Offline:  true,
		Latency:  "none",
		Accuracy: "scripted",
	}
}

func (m *mockRecognizer) Probe(ctx context.Context) error { return nil }

func (m *mockRecognizer) Close() error { return nil }

func (m *mockRecognizer) Recognize(ctx context.Context, pcm []float32, sampleRate int, opts Options) (<-chan Update, error) {
	out := make(chan Update, len(m.script.Interims)+3)
	go func() {
		defer close(out)
		emit := func(u Update) bool {
			if m.script.Delay > 0 {
				select {
				case <-time.After(m.script.Delay):
				case <-ctx.Done():
					return false
				}
			}
			select {
			case out <- u:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if m.script.Err != nil {
			emit(Update{Kind: UpdateError, Err: m.script.Err})
			return
		}
		if m.script.NoSpeech {
			emit(Update{Kind: UpdateError, Err: faults.New(faults.CodeNoSpeech, nil)})
			return
		}
		for _, text := range m.script.Interims {
			if !emit(Update{Kind: UpdateInterim, Result: Result{Text: text}}) {
				return
			}
		}
		if m.script.SkipFinal {
			return
		}
		if !emit(Update{Kind: UpdateSpeechEnd}) {
			return
		}
		emit(Update{Kind: UpdateFinal, Result: Result{
			Text:         m.script.Final,
			Confidence:   m.script.Confidence,
			Alternatives: m.script.Alternatives,
		}})
	}()
	return out, nil
}
