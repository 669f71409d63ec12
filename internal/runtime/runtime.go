// Package runtime wires the fala daemon together: telemetry, the message
// bus, the attempt store, the capture and recognition stacks, and the
// practice service, plus health and metrics HTTP endpoints.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/falalabs/fala-core/internal/assess"
	"github.com/falalabs/fala-core/internal/bus"
	"github.com/falalabs/fala-core/internal/capture"
	"github.com/falalabs/fala-core/internal/config"
	"github.com/falalabs/fala-core/internal/dsp"
	"github.com/falalabs/fala-core/internal/eventstore"
	"github.com/falalabs/fala-core/internal/natsserver"
	"github.com/falalabs/fala-core/internal/orchestrator"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up in dependency order, serves until ctx is
// cancelled, then shuts everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := eventstore.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open attempt store: %w", err)
	}
	defer store.Close()

	var device capture.Device
	var padev *capture.PortAudioDevice
	switch r.cfg.Capture.Device {
	case "portaudio":
		padev = capture.NewPortAudioDevice()
		device = padev
	default:
		device = capture.NullDevice{}
	}
	if padev != nil {
		defer padev.Close()
	}

	recorder := capture.NewRecorder(capture.Config{
		SampleRate:       r.cfg.Capture.SampleRate,
		Channels:         r.cfg.Capture.Channels,
		MinDurationMs:    r.cfg.Capture.MinDurationMs,
		MaxDurationMs:    r.cfg.Capture.MaxDurationMs,
		LevelIntervalMs:  r.cfg.Capture.LevelIntervalMs,
		EchoCancellation: r.cfg.Capture.EchoCancellation,
		NoiseSuppression: r.cfg.Capture.NoiseSuppression,
		AutoGain:         r.cfg.Capture.AutoGain,
	}, device, r.logger)

	pipeline := dsp.NewPipeline(pipelineConfig(r.cfg.DSP))
	assessor := assess.New(assess.Config{
		ExcellentScore: r.cfg.Assess.ExcellentScore,
		GoodScore:      r.cfg.Assess.GoodScore,
		FairScore:      r.cfg.Assess.FairScore,
		MaxErrors:      r.cfg.Assess.MaxErrors,
		CacheSize:      r.cfg.Assess.CacheSize,
	})

	backends, err := orchestrator.BuildBackends(r.cfg.Recognition)
	if err != nil {
		return fmt.Errorf("failed to build recognition backends: %w", err)
	}
	registry, err := orchestrator.NewRegistry(ctx, r.cfg.Orchestrator, r.cfg.RuntimeName, backends, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start engine registry: %w", err)
	}
	defer registry.Close()

	practice := orchestrator.NewService(ctx, r.cfg.Orchestrator, r.cfg.Recognition,
		busClient, registry, recorder, pipeline, assessor, store, r.logger)
	if err := practice.Start(); err != nil {
		return fmt.Errorf("failed to start practice service: %w", err)
	}
	defer practice.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.readyHandler(busClient, practice))
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func pipelineConfig(cfg config.DSPConfig) dsp.Config {
	out := dsp.DefaultConfig()
	out.TargetSampleRate = cfg.TargetSampleRate
	out.HighPassCutoffHz = cfg.HighPassCutoffHz
	out.HighPassQ = cfg.HighPassQ
	out.NoiseWindowMs = cfg.NoiseWindowMs
	out.NoiseGateRatio = cfg.NoiseGateRatio
	out.TrimPadMs = cfg.TrimPadMs
	out.VAD.Threshold = cfg.VADThreshold
	out.VAD.FrameMs = cfg.VADFrameMs
	out.VAD.MinSpeechMs = cfg.MinSpeechMs
	out.VAD.MinSilenceMs = cfg.MinSilenceMs
	return out
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) readyHandler(busClient *bus.Client, practice *orchestrator.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if r.ready.Load() && busClient.Healthy() && practice.Healthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	}
}
