package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/falalabs/fala-core/internal/config"
	"github.com/falalabs/fala-core/internal/eventstore"
	"github.com/falalabs/fala-core/internal/faults"
	"github.com/falalabs/fala-core/internal/protocol"
)

// recordingConn captures published messages in place of a live NATS
// connection.
type recordingConn struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (c *recordingConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messages == nil {
		c.messages = make(map[string][][]byte)
	}
	c.messages[subject] = append(c.messages[subject], append([]byte(nil), data...))
	return nil
}

func (c *recordingConn) published(subject string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages[subject]
}

func scripted(scores ...int) func(int) (attemptOutcome, error) {
	return func(attempt int) (attemptOutcome, error) {
		score := scores[attempt-1]
		return attemptOutcome{Score: score, Engine: "mock"}, nil
	}
}

func TestBestOfEarlyExitOnExcellent(t *testing.T) {
	// Second attempt clears the threshold; the third must never run.
	ran := 0
	best, attempts, improved := bestOf(context.Background(), 3, 95, func(attempt int) (attemptOutcome, error) {
		ran++
		return scripted(40, 97, 10)(attempt)
	})
	if ran != 2 || attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, ran %d counted %d", ran, attempts)
	}
	if best.Score != 97 {
		t.Fatalf("expected best 97, got %d", best.Score)
	}
	if !improved {
		t.Fatal("later attempt beat an earlier one; improved must be set")
	}
}

func TestBestOfKeepsBestAcrossAllAttempts(t *testing.T) {
	best, attempts, improved := bestOf(context.Background(), 3, 95, scripted(80, 60, 70))
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if best.Score != 80 {
		t.Fatalf("expected best 80, got %d", best.Score)
	}
	if improved {
		t.Fatal("first attempt was never beaten; improved must be false")
	}
}

func TestBestOfSingleAttempt(t *testing.T) {
	best, attempts, improved := bestOf(context.Background(), 1, 95, scripted(50))
	if attempts != 1 || best.Score != 50 || improved {
		t.Fatalf("unexpected outcome: score %d attempts %d improved %v", best.Score, attempts, improved)
	}
}

func TestBestOfCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, attempts, _ := bestOf(ctx, 3, 95, scripted(50, 60, 70))
	if attempts != 0 {
		t.Fatalf("cancelled context must run no attempts, ran %d", attempts)
	}
}

func TestRunAbortedBeforeAnyAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store, err := eventstore.Open(ctx, config.StoreConfig{RetentionMode: "ephemeral"}, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	s := NewService(ctx, config.OrchestratorConfig{MaxAttempts: 3, ExcellentThreshold: 95},
		config.RecognitionConfig{}, nil, nil, nil, nil, nil, store, testLogger())
	conn := &recordingConn{}
	s.conn = conn
	cancel()

	s.run(protocol.PracticeRequest{RequestID: "req-1", ExpectedText: "bom dia"})

	if got := conn.published(protocol.SubjectResult); len(got) != 0 {
		t.Fatalf("aborted run must not publish a result, got %d", len(got))
	}
	errs := conn.published(protocol.SubjectError)
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error event, got %d", len(errs))
	}
	var perr protocol.PracticeError
	if err := json.Unmarshal(errs[0], &perr); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if perr.Code != string(faults.CodeSessionAborted) {
		t.Fatalf("expected session_aborted, got %q", perr.Code)
	}
	if perr.RequestID != "req-1" {
		t.Fatalf("error event must carry the request id, got %q", perr.RequestID)
	}
}

func TestRuleFallbackIsDeterministic(t *testing.T) {
	a := ruleFallback("bom dia")
	b := ruleFallback("bom dia")
	if a.Score != b.Score || a.Tier != b.Tier || a.Message != b.Message {
		t.Fatal("fallback outcome must be deterministic")
	}
	if a.Engine != "fallback" {
		t.Fatalf("expected fallback engine, got %s", a.Engine)
	}
	if a.Tier == "excellent" || a.Score > 0 {
		t.Fatalf("fallback must not claim success: %+v", a)
	}
}
