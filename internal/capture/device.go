// Package capture manages the lifecycle of a single recording session over
// an audio input device and provides a real-time energy level feed. The
// device itself is an interface so tests and headless deployments can
// substitute the portaudio implementation.
package capture

import (
	"context"
	"time"

	"github.com/falalabs/fala-core/internal/faults"
)

// Constraints are the settings negotiated when opening an input device.
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
}

// Stream is a live input handle. Read blocks until the next frame of
// samples is available and returns io.EOF once the stream has been closed.
// Close must be safe to call exactly once per open stream.
type Stream interface {
	Read() ([]float32, error)
	Close() error
}

// Device grants access to an audio input. Open suspends until the device is
// granted or denied; denial and absence surface as faults.Fault errors, not
// opaque failures.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// NullDevice is the headless stand-in used when no input hardware is
// configured; every Open reports the device as absent.
type NullDevice struct{}

func (NullDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	return nil, faults.New(faults.CodeDeviceNotFound, nil)
}

// CaptureResult is the immutable outcome of a finished recording session.
type CaptureResult struct {
	PCM        []float32
	SampleRate int
	Channels   int
	Duration   time.Duration
	Chunks     int
	CreatedAt  time.Time
}
