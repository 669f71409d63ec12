package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/falalabs/fala-core/internal/faults"
)

// State is the recorder lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StatePreparing State = "preparing"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
	StateError     State = "error"
)

// Config holds recorder tunables.
type Config struct {
	SampleRate       int  `yaml:"sample_rate"`
	Channels         int  `yaml:"channels"`
	MinDurationMs    int  `yaml:"min_duration_ms"`
	MaxDurationMs    int  `yaml:"max_duration_ms"`
	LevelIntervalMs  int  `yaml:"level_interval_ms"`
	EchoCancellation bool `yaml:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression"`
	AutoGain         bool `yaml:"auto_gain"`
}

// DefaultConfig captures mono 16 kHz with a 500 ms floor, a 15 s ceiling
// and a ~20 Hz level feed.
func DefaultConfig() Config {
	return Config{
		SampleRate:       16000,
		Channels:         1,
		MinDurationMs:    500,
		MaxDurationMs:    15000,
		LevelIntervalMs:  50,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGain:         true,
	}
}

// Recorder drives one recording session at a time through
// idle → preparing → recording ⇄ paused → stopping → idle, with an error
// absorbing state reachable from any non-idle state. The device stream is
// released exactly once on every exit path.
type Recorder struct {
	cfg    Config
	device Device
	log    *slog.Logger
	em     *emitter

	mu        sync.Mutex
	state     State
	stopping  bool
	stream    Stream
	samples   []float32
	chunks    int
	startedAt time.Time
	done      chan struct{}
	closeOnce *sync.Once
	autoStop  *sync.Once
}

func NewRecorder(cfg Config, device Device, log *slog.Logger) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Recorder{
		cfg:    cfg,
		device: device,
		log:    log.With(slog.String("component", "recorder")),
		em:     newEmitter(),
		state:  StateIdle,
	}
}

// Subscribe registers a handler for one event kind and returns an
// unsubscribe function.
func (r *Recorder) Subscribe(kind EventKind, h Handler) func() {
	return r.em.subscribe(kind, h)
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start opens the input device and begins accumulating samples. Only one
// session may be active; starting while busy is a contract violation.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle && r.state != StateError {
		r.mu.Unlock()
		return faults.New(faults.CodeSessionBusy, nil)
	}
	r.state = StatePreparing
	r.mu.Unlock()

	stream, err := r.device.Open(ctx, Constraints{
		SampleRate:       r.cfg.SampleRate,
		Channels:         r.cfg.Channels,
		EchoCancellation: r.cfg.EchoCancellation,
		NoiseSuppression: r.cfg.NoiseSuppression,
		AutoGain:         r.cfg.AutoGain,
	})
	if err != nil {
		r.mu.Lock()
		r.state = StateError
		r.mu.Unlock()
		r.log.Warn("device open failed", slog.String("error", err.Error()))
		r.em.publish(Event{Kind: EventError, Err: err})
		return err
	}

	r.mu.Lock()
	r.stream = stream
	r.samples = make([]float32, 0, r.cfg.SampleRate*r.cfg.Channels)
	r.chunks = 0
	r.stopping = false
	r.startedAt = time.Now()
	r.done = make(chan struct{})
	r.closeOnce = new(sync.Once)
	r.autoStop = new(sync.Once)
	r.state = StateRecording
	done := r.done
	r.mu.Unlock()

	r.log.Info("recording started", slog.Int("sample_rate", r.cfg.SampleRate))
	r.em.publish(Event{Kind: EventStarted})
	go r.readLoop(stream, done)
	return nil
}

// Pause suspends sample accumulation; a no-op outside recording.
func (r *Recorder) Pause() {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return
	}
	r.state = StatePaused
	r.mu.Unlock()
	r.em.publish(Event{Kind: EventPaused})
}

// Resume continues a paused session; a no-op outside paused.
func (r *Recorder) Resume() {
	r.mu.Lock()
	if r.state != StatePaused {
		r.mu.Unlock()
		return
	}
	r.state = StateRecording
	r.mu.Unlock()
	r.em.publish(Event{Kind: EventResumed})
}

// Stop finalizes the session into a CaptureResult. If the session is
// shorter than the configured minimum it delays finalization until the
// minimum has elapsed rather than truncating.
func (r *Recorder) Stop() (*CaptureResult, error) {
	r.mu.Lock()
	if (r.state != StateRecording && r.state != StatePaused) || r.stopping {
		r.mu.Unlock()
		return nil, fmt.Errorf("no active recording to stop")
	}
	r.stopping = true
	startedAt := r.startedAt
	r.mu.Unlock()

	if min := time.Duration(r.cfg.MinDurationMs) * time.Millisecond; min > 0 {
		if wait := min - time.Since(startedAt); wait > 0 {
			time.Sleep(wait)
		}
	}

	r.mu.Lock()
	if r.state != StateRecording && r.state != StatePaused {
		// Cancelled while waiting out the minimum duration.
		r.stopping = false
		r.mu.Unlock()
		return nil, faults.New(faults.CodeSessionAborted, nil)
	}
	r.state = StateStopping
	stream := r.stream
	closeOnce := r.closeOnce
	done := r.done
	r.mu.Unlock()

	closeOnce.Do(func() { _ = stream.Close() })
	<-done

	r.mu.Lock()
	samples := r.samples
	chunks := r.chunks
	r.samples = nil
	r.chunks = 0
	r.stream = nil
	r.stopping = false
	r.state = StateIdle
	r.mu.Unlock()

	result := &CaptureResult{
		PCM:        samples,
		SampleRate: r.cfg.SampleRate,
		Channels:   r.cfg.Channels,
		Duration:   r.audioDuration(len(samples)),
		Chunks:     chunks,
		CreatedAt:  time.Now(),
	}
	r.log.Info("recording stopped",
		slog.Duration("duration", result.Duration),
		slog.Int("chunks", result.Chunks))
	r.em.publish(Event{Kind: EventComplete, Result: result})
	return result, nil
}

// Cancel discards accumulated data and releases the device without
// emitting a completion event. Valid from any state.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	if r.state == StateIdle {
		r.mu.Unlock()
		return
	}
	stream := r.stream
	closeOnce := r.closeOnce
	done := r.done
	r.stream = nil
	r.samples = nil
	r.chunks = 0
	r.stopping = false
	r.state = StateIdle
	r.mu.Unlock()

	if stream != nil && closeOnce != nil {
		closeOnce.Do(func() { _ = stream.Close() })
	}
	if done != nil {
		<-done
	}
	r.log.Info("recording cancelled")
}

func (r *Recorder) readLoop(stream Stream, done chan struct{}) {
	defer close(done)

	interval := time.Duration(r.cfg.LevelIntervalMs) * time.Millisecond
	var levelBuf []float32
	lastEmit := time.Now()

	for {
		frame, err := stream.Read()
		if err != nil {
			if err != io.EOF {
				r.absorbStreamError(err)
			}
			return
		}

		r.mu.Lock()
		state := r.state
		var overMax bool
		if state == StateRecording {
			r.samples = append(r.samples, frame...)
			r.chunks++
			maxDur := time.Duration(r.cfg.MaxDurationMs) * time.Millisecond
			overMax = maxDur > 0 && r.audioDuration(len(r.samples)) >= maxDur
		}
		autoStop := r.autoStop
		r.mu.Unlock()

		switch state {
		case StateRecording:
			levelBuf = append(levelBuf, frame...)
			if interval <= 0 || time.Since(lastEmit) >= interval {
				level, pk := levels(levelBuf)
				r.em.publish(Event{Kind: EventLevel, Level: &LevelUpdate{Level: level, Peak: pk}})
				levelBuf = levelBuf[:0]
				lastEmit = time.Now()
			}
			if overMax {
				// Maximum-duration guard: request a normal stop so the
				// session still finalizes into a result.
				autoStop.Do(func() {
					go func() { _, _ = r.Stop() }()
				})
			}
		case StatePaused:
			// Keep draining the device so resume picks up live audio.
		default:
			return
		}
	}
}

// absorbStreamError moves the recorder into the error state when the device
// stream dies underneath an active session.
func (r *Recorder) absorbStreamError(err error) {
	r.mu.Lock()
	if r.state != StateRecording && r.state != StatePaused {
		r.mu.Unlock()
		return
	}
	stream := r.stream
	closeOnce := r.closeOnce
	r.stream = nil
	r.state = StateError
	r.mu.Unlock()

	if stream != nil && closeOnce != nil {
		closeOnce.Do(func() { _ = stream.Close() })
	}
	fault := faults.New(faults.CodeUnknown, err)
	r.log.Warn("input stream failed", slog.String("error", err.Error()))
	r.em.publish(Event{Kind: EventError, Err: fault})
}

func (r *Recorder) audioDuration(sampleCount int) time.Duration {
	frames := sampleCount / r.cfg.Channels
	return time.Duration(float64(frames) / float64(r.cfg.SampleRate) * float64(time.Second))
}

// levels maps a window of samples onto the 0-100 level scale published to
// UI meters. 0.5 RMS maps to full scale, which keeps normal speech in the
// 20-70 band.
func levels(samples []float32) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum, pk float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
		if m := math.Abs(v); m > pk {
			pk = m
		}
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	level := math.Min(100, rms*200)
	return level, math.Min(100, pk*100)
}
