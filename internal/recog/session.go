package recog

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/falalabs/fala-core/internal/faults"
	"github.com/falalabs/fala-core/internal/textnorm"
)

// SessionState tracks the listening lifecycle.
type SessionState string

const (
	SessionIdle      SessionState = "idle"
	SessionStarting  SessionState = "starting"
	SessionListening SessionState = "listening"
	SessionStopped   SessionState = "stopped"
	SessionError     SessionState = "error"
)

// SessionConfig holds listening tunables.
type SessionConfig struct {
	Language         string   `yaml:"language"`
	Fallbacks        []string `yaml:"fallback_languages"`
	Interim          bool     `yaml:"interim"`
	MaxAlternatives  int      `yaml:"max_alternatives"`
	WaitForSpeechEnd bool     `yaml:"wait_for_speech_end"`
	SettleMs         int      `yaml:"settle_ms"`
	DrainGraceMs     int      `yaml:"drain_grace_ms"`
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Language:         "pt-PT",
		Fallbacks:        []string{"en-US"},
		Interim:          true,
		MaxAlternatives:  3,
		WaitForSpeechEnd: true,
		SettleMs:         200,
		DrainGraceMs:     500,
	}
}

// Session runs one bounded listening attempt at a time against a backend
// and reduces its update stream to a single best result. Only one Listen
// may be in flight per session.
type Session struct {
	cfg SessionConfig
	rec Recognizer
	log *slog.Logger

	mu      sync.Mutex
	state   SessionState
	active  bool
	resolve func(Result, error)
}

func NewSession(cfg SessionConfig, rec Recognizer, log *slog.Logger) *Session {
	if cfg.SettleMs <= 0 {
		cfg.SettleMs = 200
	}
	if cfg.DrainGraceMs <= 0 {
		cfg.DrainGraceMs = 500
	}
	return &Session{
		cfg:   cfg,
		rec:   rec,
		log:   log.With(slog.String("component", "recog")),
		state: SessionIdle,
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Abort tears down an in-flight Listen immediately. The pending Listen
// resolves with a session_aborted fault; Abort with nothing in flight is a
// no-op.
func (s *Session) Abort() {
	s.mu.Lock()
	resolve := s.resolve
	if resolve != nil {
		s.state = SessionStopped
	}
	s.mu.Unlock()
	if resolve != nil {
		resolve(Result{}, faults.New(faults.CodeSessionAborted, nil))
	}
}

// Listen runs one recognition pass over pcm and suspends until a final
// result, a fatal error, a timeout-triggered stop, or session end,
// whichever comes first. The timeout requests a graceful stop so an
// in-flight utterance can still complete; no-speech resolves to an empty
// result rather than an error, and a silently ended session resolves to the
// last partial.
func (s *Session) Listen(ctx context.Context, timeout time.Duration, pcm []float32, sampleRate int) (Result, error) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return Result{}, faults.New(faults.CodeSessionBusy, nil)
	}
	s.active = true
	s.state = SessionStarting
	s.mu.Unlock()

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Single-resolution completion: timer stop, final, fatal error and
	// stream close all race to resolve; the first writer wins.
	type resolution struct {
		result Result
		err    error
	}
	done := make(chan resolution, 1)
	var once sync.Once
	resolve := func(r Result, err error) {
		once.Do(func() { done <- resolution{result: r, err: err} })
	}

	s.mu.Lock()
	s.resolve = resolve
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.resolve = nil
		s.active = false
		if s.state != SessionError {
			s.state = SessionStopped
		}
		s.mu.Unlock()
	}()

	opts := Options{
		Language:        s.cfg.Language,
		Fallbacks:       s.cfg.Fallbacks,
		Interim:         s.cfg.Interim,
		MaxAlternatives: s.cfg.MaxAlternatives,
	}
	updates, err := s.rec.Recognize(rctx, pcm, sampleRate, opts)
	if err != nil {
		if faults.CodeOf(err) == faults.CodeNoSpeech {
			return Result{IsFinal: true, NoSpeech: true, Language: baseTag(s.cfg.Language)}, nil
		}
		s.setState(SessionError)
		return Result{}, err
	}
	s.setState(SessionListening)

	go s.consume(updates, cancel, timeout, resolve)

	select {
	case r := <-done:
		if r.err != nil {
			s.setState(SessionError)
			return Result{}, r.err
		}
		return s.finalize(r.result), nil
	case <-ctx.Done():
		cancel()
		return Result{}, faults.New(faults.CodeSessionAborted, ctx.Err())
	}
}

// consume reduces the backend update stream. Interims are tracked so a
// silent session end still yields the freshest text; a final is held until
// speech end plus the settle delay so trailing sounds are not truncated.
func (s *Session) consume(updates <-chan Update, stop context.CancelFunc, timeout time.Duration, resolve func(Result, error)) {
	settle := time.Duration(s.cfg.SettleMs) * time.Millisecond
	grace := time.Duration(s.cfg.DrainGraceMs) * time.Millisecond

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	var last Result
	var pendingFinal *Result
	var deadline <-chan time.Time
	speechEnded := !s.cfg.WaitForSpeechEnd

	release := func(r Result) {
		if s.cfg.WaitForSpeechEnd && settle > 0 {
			time.Sleep(settle)
		}
		resolve(r, nil)
	}

	for {
		select {
		case <-timerC:
			// Graceful stop: cancel the pass but keep draining so an
			// in-flight final still lands. The grace deadline bounds a
			// backend that never closes its stream.
			timerC = nil
			stop()
			deadline = time.After(grace)
		case <-deadline:
			last.IsFinal = true
			resolve(last, nil)
			return
		case u, ok := <-updates:
			if !ok {
				// Session ended without a final: last partial or empty.
				if pendingFinal != nil {
					release(*pendingFinal)
					return
				}
				last.IsFinal = true
				resolve(last, nil)
				return
			}
			switch u.Kind {
			case UpdateInterim:
				last = u.Result
			case UpdateSpeechEnd:
				speechEnded = true
				if pendingFinal != nil {
					release(*pendingFinal)
					return
				}
			case UpdateFinal:
				final := u.Result
				final.IsFinal = true
				if speechEnded {
					release(final)
					return
				}
				pendingFinal = &final
			case UpdateError:
				switch {
				case faults.CodeOf(u.Err) == faults.CodeNoSpeech:
					resolve(Result{IsFinal: true, NoSpeech: true}, nil)
					return
				case faults.Recoverable(u.Err):
					s.log.Warn("recoverable recognition error",
						slog.String("code", string(faults.CodeOf(u.Err))),
						slog.String("error", u.Err.Error()))
				default:
					resolve(Result{}, u.Err)
					return
				}
			}
		}
	}
}

// finalize applies shared text normalization and post-hoc language
// inference to a resolved result. An empty transcript means nothing was
// heard, so timeout and silent-end resolutions carry the no-speech flag the
// same way an explicit no-speech terminal does.
func (s *Session) finalize(r Result) Result {
	if strings.TrimSpace(r.Text) == "" {
		r.NoSpeech = true
		if r.Language == "" {
			r.Language = baseTag(s.cfg.Language)
		}
		return r
	}
	r.Language = InferLanguage(r.Text, s.cfg.Language)
	r.Text = textnorm.RestoreNumberWords(r.Text, r.Language)
	r.Text = textnorm.CanonicalizeVariants(r.Text)
	return r
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
