package capture

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/falalabs/fala-core/internal/faults"
)

const framesPerBuffer = 1024

// PortAudioDevice opens the host's default input device through portaudio.
type PortAudioDevice struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortAudioDevice returns an uninitialized device; the portaudio runtime
// is brought up lazily on first Open.
func NewPortAudioDevice() *PortAudioDevice {
	return &PortAudioDevice{}
}

func (d *PortAudioDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.New(faults.CodeSessionAborted, err)
	}

	d.mu.Lock()
	if !d.initialized {
		if err := portaudio.Initialize(); err != nil {
			d.mu.Unlock()
			return nil, faults.New(faults.CodeDeviceNotFound, err)
		}
		d.initialized = true
	}
	d.mu.Unlock()

	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	buf := make([]float32, framesPerBuffer*channels)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(c.SampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, classifyOpenError(err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, faults.New(faults.CodeDeviceInUse, err)
	}
	return &portAudioStream{stream: stream, buf: buf}, nil
}

// Close tears the portaudio runtime down. Call once at process shutdown.
func (d *PortAudioDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil
	}
	d.initialized = false
	return portaudio.Terminate()
}

// classifyOpenError maps portaudio open failures onto the fault taxonomy.
// Portaudio reports host errors as strings, so this is heuristic.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no default input"), strings.Contains(msg, "no device"):
		return faults.New(faults.CodeDeviceNotFound, err)
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return faults.New(faults.CodeDeviceInUse, err)
	case strings.Contains(msg, "sample rate"), strings.Contains(msg, "invalid"):
		return faults.New(faults.CodeOverconstrained, err)
	case strings.Contains(msg, "denied"), strings.Contains(msg, "permission"):
		return faults.New(faults.CodePermissionDenied, err)
	default:
		return faults.New(faults.CodeDeviceNotFound, err)
	}
}

type portAudioStream struct {
	stream *portaudio.Stream
	buf    []float32

	mu     sync.Mutex
	closed bool
}

func (s *portAudioStream) Read() ([]float32, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, io.EOF
	}
	s.mu.Unlock()

	if err := s.stream.Read(); err != nil {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, io.EOF
		}
		return nil, err
	}
	out := make([]float32, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

func (s *portAudioStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return err
	}
	return s.stream.Close()
}
