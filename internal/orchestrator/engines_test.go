package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/falalabs/fala-core/internal/config"
	"github.com/falalabs/fala-core/internal/recog"
)

type probeRecognizer struct {
	recog.Recognizer
	id       string
	probeErr error
}

func (p *probeRecognizer) Info() recog.BackendInfo {
	return recog.BackendInfo{ID: p.id, Name: p.id}
}

func (p *probeRecognizer) Probe(ctx context.Context) error { return p.probeErr }

func (p *probeRecognizer) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func registryConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		MaxAttempts:        3,
		ExcellentThreshold: 95,
		EnginePriority:     []string{"http", "exec", "mock"},
		EnableMock:         true,
	}
}

func newTestRegistry(t *testing.T, backends map[string]recog.Recognizer) *Registry {
	t.Helper()
	reg, err := NewRegistry(context.Background(), registryConfig(), "fala-test", backends, nil, testLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(reg.Close)
	return reg
}

func TestSelectFollowsPriority(t *testing.T) {
	reg := newTestRegistry(t, map[string]recog.Recognizer{
		"http": &probeRecognizer{id: "http"},
		"exec": &probeRecognizer{id: "exec"},
		"mock": &probeRecognizer{id: "mock"},
	})

	_, desc, ok := reg.Select()
	if !ok {
		t.Fatal("expected an available engine")
	}
	if desc.Info.ID != "http" {
		t.Fatalf("expected highest-priority engine http, got %s", desc.Info.ID)
	}
}

func TestSelectSkipsUnavailable(t *testing.T) {
	reg := newTestRegistry(t, map[string]recog.Recognizer{
		"http": &probeRecognizer{id: "http", probeErr: fmt.Errorf("not configured")},
		"exec": &probeRecognizer{id: "exec"},
		"mock": &probeRecognizer{id: "mock"},
	})

	_, desc, ok := reg.Select()
	if !ok || desc.Info.ID != "exec" {
		t.Fatalf("expected exec after http probe failure, got %+v ok=%v", desc, ok)
	}
}

func TestAfterWalksRemainingPriority(t *testing.T) {
	reg := newTestRegistry(t, map[string]recog.Recognizer{
		"http": &probeRecognizer{id: "http"},
		"exec": &probeRecognizer{id: "exec"},
		"mock": &probeRecognizer{id: "mock"},
	})

	_, desc, ok := reg.After("http")
	if !ok || desc.Info.ID != "exec" {
		t.Fatalf("expected exec after http, got %+v ok=%v", desc, ok)
	}
	_, desc, ok = reg.After("exec")
	if !ok || desc.Info.ID != "mock" {
		t.Fatalf("expected mock after exec, got %+v ok=%v", desc, ok)
	}
	if _, _, ok := reg.After("mock"); ok {
		t.Fatal("nothing follows the last engine")
	}
}

func TestMarkUnavailableExcludesEngine(t *testing.T) {
	reg := newTestRegistry(t, map[string]recog.Recognizer{
		"http": &probeRecognizer{id: "http"},
		"mock": &probeRecognizer{id: "mock"},
	})

	reg.MarkUnavailable("http", "connection refused")
	_, desc, ok := reg.Select()
	if !ok || desc.Info.ID != "mock" {
		t.Fatalf("expected mock after http marked unavailable, got %+v ok=%v", desc, ok)
	}

	// A successful re-probe restores the engine.
	reg.ProbeAll(context.Background())
	_, desc, ok = reg.Select()
	if !ok || desc.Info.ID != "http" {
		t.Fatalf("expected http restored after probe, got %+v ok=%v", desc, ok)
	}
}

func TestMockExcludedWhenDisabled(t *testing.T) {
	cfg := registryConfig()
	cfg.EnableMock = false
	reg, err := NewRegistry(context.Background(), cfg, "fala-test", map[string]recog.Recognizer{
		"mock": &probeRecognizer{id: "mock"},
	}, nil, testLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(reg.Close)

	if _, _, ok := reg.Select(); ok {
		t.Fatal("disabled mock engine must not be selectable")
	}
}

func TestBuildBackends(t *testing.T) {
	backends, err := BuildBackends(config.RecognitionConfig{
		Command:  "whisper-cli --json",
		Endpoint: "https://stt.example.test/v1",
		APIKey:   "key",
	})
	if err != nil {
		t.Fatalf("build backends: %v", err)
	}
	for _, id := range []string{"mock", "exec", "http"} {
		if _, ok := backends[id]; !ok {
			t.Fatalf("expected %s backend", id)
		}
	}

	minimal, err := BuildBackends(config.RecognitionConfig{})
	if err != nil {
		t.Fatalf("build backends: %v", err)
	}
	if len(minimal) != 1 {
		t.Fatalf("expected only the mock backend, got %d", len(minimal))
	}
}
