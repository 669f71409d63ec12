package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/falalabs/fala-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{RetentionMode: "ephemeral"}
	st, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	// Writes are no-ops but must not fail.
	if err := st.AppendAttempt(ctx, Attempt{SessionID: "s", Score: 80, Tier: "good"}); err != nil {
		t.Fatalf("ephemeral append: %v", err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "attempts.db"), RetentionMode: "session"}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open attempt store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sessionID := "session-123"
	if err := st.BeginSession(context.Background(), sessionID, "bom dia", "pt"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	attempts := []Attempt{
		{SessionID: sessionID, AttemptID: "a1", AttemptNo: 1, Engine: "mock", Expected: "bom dia", Heard: "bon dia", Score: 95, Tier: "good", Language: "pt"},
		{SessionID: sessionID, AttemptID: "a2", AttemptNo: 2, Engine: "mock", Expected: "bom dia", Heard: "bom dia", Score: 100, Tier: "excellent", Language: "pt"},
	}
	for _, a := range attempts {
		if err := st.AppendAttempt(context.Background(), a); err != nil {
			t.Fatalf("append attempt: %v", err)
		}
	}

	got, err := st.ListSessionAttempts(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(got))
	}
	if got[0].Heard != "bon dia" || got[1].Score != 100 {
		t.Fatalf("unexpected rows: %+v", got)
	}

	best, err := st.BestScore(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("best score: %v", err)
	}
	if best != 100 {
		t.Fatalf("expected best score 100, got %d", best)
	}
}

func TestBestScoreEmptySession(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "attempts.db"), RetentionMode: "session"}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open attempt store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	best, err := st.BestScore(context.Background(), "nothing-here")
	if err != nil {
		t.Fatalf("best score: %v", err)
	}
	if best != -1 {
		t.Fatalf("expected -1 for empty session, got %d", best)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "attempts.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open attempt store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	st.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := st.BeginSession(context.Background(), "old-session", "obrigado", "pt"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := st.AppendAttempt(context.Background(), Attempt{SessionID: "old-session", AttemptID: "a1", AttemptNo: 1, Score: 70, Tier: "fair"}); err != nil {
		t.Fatalf("append attempt: %v", err)
	}

	st.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := st.BeginSession(context.Background(), "new-session", "boa tarde", "pt"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := st.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	attempts, err := st.ListSessionAttempts(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 0 {
		t.Fatalf("expected old session pruned")
	}
}
