package recog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/falalabs/fala-core/internal/faults"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSessionConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.SettleMs = 1
	cfg.DrainGraceMs = 50
	return cfg
}

func TestListenResolvesFinal(t *testing.T) {
	rec := NewMockRecognizer(MockScript{
		Interims:   []string{"bom", "bom di"},
		Final:      "bom dia",
		Confidence: 0.92,
	})
	s := NewSession(testSessionConfig(), rec, testLogger())

	res, err := s.Listen(context.Background(), time.Second, nil, 16000)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if res.Text != "bom dia" {
		t.Fatalf("expected final transcript, got %q", res.Text)
	}
	if !res.IsFinal {
		t.Fatal("result must be marked final")
	}
	if res.Language != "pt" {
		t.Fatalf("expected inferred pt, got %q", res.Language)
	}
	if s.State() != SessionStopped {
		t.Fatalf("expected stopped state, got %s", s.State())
	}
}

func TestListenNoSpeechResolvesEmpty(t *testing.T) {
	rec := NewMockRecognizer(MockScript{NoSpeech: true})
	s := NewSession(testSessionConfig(), rec, testLogger())

	res, err := s.Listen(context.Background(), time.Second, nil, 16000)
	if err != nil {
		t.Fatalf("no-speech must not be an error, got %v", err)
	}
	if !res.NoSpeech {
		t.Fatal("expected no-speech flag")
	}
	if res.Text != "" {
		t.Fatalf("expected empty transcript, got %q", res.Text)
	}
}

func TestListenSilentEndReturnsLastPartial(t *testing.T) {
	rec := NewMockRecognizer(MockScript{
		Interims:  []string{"obri", "obrigado"},
		SkipFinal: true,
	})
	s := NewSession(testSessionConfig(), rec, testLogger())

	res, err := s.Listen(context.Background(), time.Second, nil, 16000)
	if err != nil {
		t.Fatalf("silent end must not be an error, got %v", err)
	}
	if res.Text != "obrigado" {
		t.Fatalf("expected last partial, got %q", res.Text)
	}
	if res.NoSpeech {
		t.Fatal("a session that heard partials must not be flagged no-speech")
	}
}

func TestListenTimeoutNeverHangs(t *testing.T) {
	// The scripted backend stalls far past the listening window; the timer
	// must request a stop and resolve within timeout + settle + grace.
	rec := NewMockRecognizer(MockScript{
		Interims: []string{"bo"},
		Final:    "bom dia",
		Delay:    5 * time.Second,
	})
	cfg := testSessionConfig()
	s := NewSession(cfg, rec, testLogger())

	begin := time.Now()
	res, err := s.Listen(context.Background(), 100*time.Millisecond, nil, 16000)
	elapsed := time.Since(begin)
	if err != nil {
		t.Fatalf("timeout must resolve, not fail: %v", err)
	}
	budget := 100*time.Millisecond +
		time.Duration(cfg.SettleMs+cfg.DrainGraceMs)*time.Millisecond +
		200*time.Millisecond
	if elapsed > budget {
		t.Fatalf("listen took %v, budget %v", elapsed, budget)
	}
	if !res.IsFinal {
		t.Fatal("timed-out result must still be marked final")
	}
	if !res.NoSpeech {
		t.Fatal("nothing was heard before the timeout; result must be flagged no-speech")
	}
	if res.Text != "" {
		t.Fatalf("expected empty transcript, got %q", res.Text)
	}
}

func TestListenFatalErrorPropagates(t *testing.T) {
	rec := NewMockRecognizer(MockScript{
		Err: faults.New(faults.CodeServiceUnavailable, nil),
	})
	s := NewSession(testSessionConfig(), rec, testLogger())

	_, err := s.Listen(context.Background(), time.Second, nil, 16000)
	if faults.CodeOf(err) != faults.CodeServiceUnavailable {
		t.Fatalf("expected service_unavailable, got %v", err)
	}
	if s.State() != SessionError {
		t.Fatalf("expected error state, got %s", s.State())
	}
}

func TestConcurrentListenRejected(t *testing.T) {
	rec := NewMockRecognizer(MockScript{
		Final: "olá",
		Delay: 50 * time.Millisecond,
	})
	s := NewSession(testSessionConfig(), rec, testLogger())

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = s.Listen(context.Background(), time.Second, nil, 16000)
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	_, err := s.Listen(context.Background(), time.Second, nil, 16000)
	if faults.CodeOf(err) != faults.CodeSessionBusy {
		t.Fatalf("expected session_busy, got %v", err)
	}
}

func TestAbortResolvesImmediately(t *testing.T) {
	rec := NewMockRecognizer(MockScript{
		Final: "bom dia",
		Delay: 5 * time.Second,
	})
	s := NewSession(testSessionConfig(), rec, testLogger())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Listen(context.Background(), 30*time.Second, nil, 16000)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	s.Abort()

	select {
	case err := <-errCh:
		if faults.CodeOf(err) != faults.CodeSessionAborted {
			t.Fatalf("expected session_aborted, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("abort did not resolve the pending listen")
	}
}

func TestFinalizeRestoresNumberWords(t *testing.T) {
	rec := NewMockRecognizer(MockScript{Final: "good morning to you, thank you very much, see you at 4"})
	s := NewSession(testSessionConfig(), rec, testLogger())

	res, err := s.Listen(context.Background(), time.Second, nil, 16000)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if res.Language != "en" {
		t.Fatalf("expected inferred en, got %q", res.Language)
	}
	for _, r := range res.Text {
		if r >= '0' && r <= '9' {
			t.Fatalf("digits must be restored to words, got %q", res.Text)
		}
	}
}
