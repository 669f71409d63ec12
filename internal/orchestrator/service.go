package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/falalabs/fala-core/internal/assess"
	"github.com/falalabs/fala-core/internal/bus"
	"github.com/falalabs/fala-core/internal/capture"
	"github.com/falalabs/fala-core/internal/config"
	"github.com/falalabs/fala-core/internal/dsp"
	"github.com/falalabs/fala-core/internal/eventstore"
	"github.com/falalabs/fala-core/internal/faults"
	"github.com/falalabs/fala-core/internal/protocol"
	"github.com/falalabs/fala-core/internal/recog"
)

// attemptOutcome is the distilled result of one capture+recognize+assess
// pass.
type attemptOutcome struct {
	AttemptID   string
	Engine      string
	Heard       string
	Language    string
	Score       int
	Tier        string
	Message     string
	Tips        []string
	ReplayAudio bool
	NoSpeech    bool
	Duration    time.Duration
}

// publisher is the subset of the NATS connection the service publishes
// through; tests substitute a recording fake.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Service subscribes to practice requests and runs the full pronunciation
// test flow for each: capture, preprocess, recognize with engine fallback,
// assess, persist, publish.
type Service struct {
	cfg      config.OrchestratorConfig
	recogCfg config.RecognitionConfig
	bus      *bus.Client
	conn     publisher
	registry *Registry
	recorder *capture.Recorder
	pipeline *dsp.Pipeline
	assessor *assess.Assessor
	store    *eventstore.Store
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
	wg     sync.WaitGroup

	mu    sync.Mutex
	busy  bool
	ready bool
}

func NewService(parent context.Context, cfg config.OrchestratorConfig, recogCfg config.RecognitionConfig, busClient *bus.Client, registry *Registry, recorder *capture.Recorder, pipeline *dsp.Pipeline, assessor *assess.Assessor, store *eventstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		recogCfg: recogCfg,
		bus:      busClient,
		registry: registry,
		recorder: recorder,
		pipeline: pipeline,
		assessor: assessor,
		store:    store,
		log:      log.With(slog.String("component", "practice")),
		ctx:      ctx,
		cancel:   cancel,
	}
	if busClient != nil {
		s.conn = busClient.Conn()
	}
	return s
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectPracticeRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe practice requests: %w", err)
	}
	s.sub = sub
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.PracticeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("invalid practice request", slog.String("error", err.Error()))
		return
	}
	if req.ExpectedText == "" {
		s.publishError(req.RequestID, faults.New(faults.CodeUnknown, fmt.Errorf("expected_text is required")))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	// One practice run at a time: starting while another is active is a
	// contract violation, not a queueing request.
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.publishError(req.RequestID, faults.New(faults.CodeSessionBusy, nil))
		return
	}
	s.busy = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
		}()
		s.run(req)
	}()
}

func (s *Service) run(req protocol.PracticeRequest) {
	ctx := s.ctx
	if err := s.store.BeginSession(ctx, req.RequestID, req.ExpectedText, req.Language); err != nil {
		s.log.Warn("failed to record session", slog.String("error", err.Error()))
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}

	best, attempts, improved := bestOf(ctx, maxAttempts, s.cfg.ExcellentThreshold, func(attempt int) (attemptOutcome, error) {
		return s.runAttempt(ctx, req, attempt)
	})
	if attempts == 0 {
		// Cancelled before anything completed: a zero-value result would
		// read as a scored attempt, so report the abort instead.
		s.log.Warn("practice run aborted before any attempt completed",
			slog.String("request_id", req.RequestID))
		s.publishError(req.RequestID, faults.New(faults.CodeSessionAborted, ctx.Err()))
		return
	}

	result := protocol.PracticeResult{
		RequestID:    req.RequestID,
		ExpectedText: req.ExpectedText,
		HeardText:    best.Heard,
		Score:        best.Score,
		Tier:         best.Tier,
		Message:      best.Message,
		Tips:         best.Tips,
		ReplayAudio:  best.ReplayAudio,
		Language:     best.Language,
		Engine:       best.Engine,
		Attempts:     attempts,
		Improved:     improved,
		NoSpeech:     best.NoSpeech,
		Timestamp:    time.Now().UTC(),
	}
	s.publish(protocol.SubjectResult, result)
	s.log.Info("practice run complete",
		slog.String("request_id", req.RequestID),
		slog.Int("score", best.Score),
		slog.String("tier", best.Tier),
		slog.Int("attempts", attempts),
		slog.Bool("improved", improved))
}

// bestOf repeats run up to maxAttempts times, keeps the best-scoring
// outcome, flags improvement when a later attempt beat an earlier one, and
// exits early once an attempt reaches the excellent threshold.
func bestOf(ctx context.Context, maxAttempts, excellent int, run func(attempt int) (attemptOutcome, error)) (attemptOutcome, int, bool) {
	var best attemptOutcome
	bestScore := -1
	improved := false
	attempts := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		outcome, err := run(attempt)
		if err != nil {
			// runAttempt only errors on aborted context; everything else
			// degrades to the rule fallback inside.
			break
		}
		attempts++
		if outcome.Score > bestScore {
			if bestScore >= 0 {
				improved = true
			}
			best = outcome
			bestScore = outcome.Score
		}
		if outcome.Score >= excellent {
			break
		}
	}
	return best, attempts, improved
}

// runAttempt performs one capture+preprocess+recognize+assess pass,
// publishing attempt lifecycle events and persisting the row. Backend
// failures fall through the engine priority order and finally to the
// rule-based scorer, so an attempt always produces an outcome.
func (s *Service) runAttempt(ctx context.Context, req protocol.PracticeRequest, attempt int) (attemptOutcome, error) {
	attemptID := uuid.NewString()
	begin := time.Now()
	s.publish(protocol.SubjectAttemptStart, protocol.AttemptEvent{
		RequestID: req.RequestID,
		AttemptID: attemptID,
		Attempt:   attempt,
		Timestamp: begin.UTC(),
	})

	outcome := s.attemptOnce(ctx, req, attemptID)
	if ctx.Err() != nil {
		return attemptOutcome{}, faults.New(faults.CodeSessionAborted, ctx.Err())
	}
	outcome.AttemptID = attemptID
	outcome.Duration = time.Since(begin)

	s.publish(protocol.SubjectAttemptEnd, protocol.AttemptEvent{
		RequestID:  req.RequestID,
		AttemptID:  attemptID,
		Attempt:    attempt,
		Engine:     outcome.Engine,
		HeardText:  outcome.Heard,
		Score:      outcome.Score,
		Tier:       outcome.Tier,
		NoSpeech:   outcome.NoSpeech,
		DurationMs: outcome.Duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	})
	if err := s.store.AppendAttempt(ctx, eventstore.Attempt{
		SessionID:  req.RequestID,
		AttemptID:  attemptID,
		AttemptNo:  attempt,
		Engine:     outcome.Engine,
		Expected:   req.ExpectedText,
		Heard:      outcome.Heard,
		Score:      outcome.Score,
		Tier:       outcome.Tier,
		Language:   outcome.Language,
		NoSpeech:   outcome.NoSpeech,
		DurationMs: outcome.Duration.Milliseconds(),
	}); err != nil {
		s.log.Warn("failed to record attempt", slog.String("error", err.Error()))
	}
	return outcome, nil
}

func (s *Service) attemptOnce(ctx context.Context, req protocol.PracticeRequest, attemptID string) attemptOutcome {
	captured, err := s.captureUtterance(ctx, req.RequestID, attemptID)
	if err != nil {
		s.log.Warn("capture failed", slog.String("error", err.Error()))
		s.publishError(req.RequestID, err)
		return ruleFallback(req.ExpectedText)
	}

	s.publish(protocol.SubjectProcessing, protocol.StageEvent{
		RequestID: req.RequestID,
		AttemptID: attemptID,
		Timestamp: time.Now().UTC(),
	})
	processed := s.pipeline.Process(captured.PCM, captured.SampleRate, captured.Channels)
	if !processed.HasSpeech {
		res := s.assessor.Assess(req.ExpectedText, "")
		out := outcomeFromAssessment("", "", res)
		out.NoSpeech = true
		return out
	}

	heard, language, engineID, ok := s.recognize(ctx, processed, req.TimeoutMs)
	if !ok {
		return ruleFallback(req.ExpectedText)
	}
	if heard == "" {
		res := s.assessor.Assess(req.ExpectedText, "")
		out := outcomeFromAssessment(engineID, language, res)
		out.NoSpeech = true
		return out
	}

	res := s.assessor.Assess(req.ExpectedText, heard)
	out := outcomeFromAssessment(engineID, language, res)
	out.Heard = heard
	return out
}

// recognize walks the engine priority order: the selected engine first,
// then each next-available one on typed failure. ok is false when every
// engine failed.
func (s *Service) recognize(ctx context.Context, processed dsp.ProcessedAudio, timeoutMs int) (string, string, string, bool) {
	if timeoutMs <= 0 {
		timeoutMs = s.recogCfg.TimeoutMs
	}
	timeout := time.Duration(timeoutMs) * time.Millisecond

	rec, desc, ok := s.registry.Select()
	for ok {
		session := recog.NewSession(recog.SessionConfig{
			Language:         s.recogCfg.Language,
			Fallbacks:        s.recogCfg.FallbackLanguages,
			Interim:          s.recogCfg.Interim,
			MaxAlternatives:  s.recogCfg.MaxAlternatives,
			WaitForSpeechEnd: true,
			SettleMs:         s.recogCfg.SettleMs,
		}, rec, s.log)

		result, err := session.Listen(ctx, timeout, processed.Samples, processed.SampleRate)
		if err == nil {
			if result.NoSpeech {
				return "", "", desc.Info.ID, true
			}
			return result.Text, result.Language, desc.Info.ID, true
		}

		s.log.Warn("recognition engine failed",
			slog.String("engine", desc.Info.ID),
			slog.String("code", string(faults.CodeOf(err))),
			slog.String("error", err.Error()))
		s.registry.MarkUnavailable(desc.Info.ID, err.Error())
		rec, desc, ok = s.registry.After(desc.Info.ID)
	}
	return "", "", "", false
}

// captureUtterance records one utterance, bridging recorder lifecycle and
// level events onto the bus. The recorder's maximum-duration guard bounds
// the wait.
func (s *Service) captureUtterance(ctx context.Context, requestID, attemptID string) (*capture.CaptureResult, error) {
	completeCh := make(chan *capture.CaptureResult, 1)
	errCh := make(chan error, 1)
	unsubStarted := s.recorder.Subscribe(capture.EventStarted, func(capture.Event) {
		s.publish(protocol.SubjectRecording, protocol.StageEvent{
			RequestID: requestID,
			AttemptID: attemptID,
			Timestamp: time.Now().UTC(),
		})
	})
	defer unsubStarted()
	unsubComplete := s.recorder.Subscribe(capture.EventComplete, func(e capture.Event) {
		s.publish(protocol.SubjectRecordingDone, protocol.StageEvent{
			RequestID: requestID,
			AttemptID: attemptID,
			Timestamp: time.Now().UTC(),
		})
		select {
		case completeCh <- e.Result:
		default:
		}
	})
	defer unsubComplete()
	unsubErr := s.recorder.Subscribe(capture.EventError, func(e capture.Event) {
		select {
		case errCh <- e.Err:
		default:
		}
	})
	defer unsubErr()
	unsubLevel := s.recorder.Subscribe(capture.EventLevel, func(e capture.Event) {
		s.publish(protocol.SubjectLevel, protocol.LevelUpdate{
			RequestID: requestID,
			Level:     e.Level.Level,
			Peak:      e.Level.Peak,
			Timestamp: time.Now().UTC(),
		})
	})
	defer unsubLevel()

	if err := s.recorder.Start(ctx); err != nil {
		return nil, err
	}
	select {
	case result := <-completeCh:
		return result, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		s.recorder.Cancel()
		return nil, faults.New(faults.CodeSessionAborted, ctx.Err())
	}
}

func outcomeFromAssessment(engineID, language string, res assess.Result) attemptOutcome {
	return attemptOutcome{
		Engine:      engineID,
		Language:    language,
		Score:       res.Score,
		Tier:        string(res.Feedback.Level),
		Message:     res.Feedback.Message,
		Tips:        res.Feedback.Tips,
		ReplayAudio: res.Feedback.ReplayAudio,
	}
}

// ruleFallback is the deterministic last resort when no engine can hear
// the learner: the attempt is acknowledged without a verdict instead of
// failing the whole operation.
func ruleFallback(expected string) attemptOutcome {
	return attemptOutcome{
		Engine:      "fallback",
		Score:       0,
		Tier:        "unverified",
		Message:     "Could not verify pronunciation this time. Try once more.",
		Tips:        []string{fmt.Sprintf("Say %q clearly into the microphone.", expected)},
		ReplayAudio: true,
	}
}

func (s *Service) publish(subject string, msg any) {
	if s.conn == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Warn("failed to marshal message", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := s.conn.Publish(subject, payload); err != nil {
		s.log.Warn("failed to publish message", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func (s *Service) publishError(requestID string, err error) {
	code := faults.CodeOf(err)
	msg := protocol.PracticeError{
		RequestID:   requestID,
		Code:        string(code),
		Message:     err.Error(),
		Recoverable: faults.Recoverable(err),
		Timestamp:   time.Now().UTC(),
	}
	var f *faults.Fault
	if errors.As(err, &f) {
		msg.Hint = f.Hint
	}
	s.publish(protocol.SubjectError, msg)
}
