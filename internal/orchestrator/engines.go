// Package orchestrator composes capture, preprocessing, recognition and
// assessment into practice runs, selecting among recognition engines by
// priority with a rule-based fallback.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/falalabs/fala-core/internal/bus"
	"github.com/falalabs/fala-core/internal/config"
	"github.com/falalabs/fala-core/internal/protocol"
	"github.com/falalabs/fala-core/internal/recog"
)

// EngineDescriptor records one backend's probed availability.
type EngineDescriptor struct {
	Info      recog.BackendInfo
	Available bool
	Reason    string
	LastProbe time.Time
}

type engineEntry struct {
	rec  recog.Recognizer
	desc EngineDescriptor
}

// Registry probes recognition backends, keeps their availability fresh and
// announces changes on the bus. Selection walks the configured priority
// order and returns the first available engine.
type Registry struct {
	cfg         config.OrchestratorConfig
	runtimeName string
	log         *slog.Logger
	bus         *bus.Client

	mu      sync.RWMutex
	engines map[string]*engineEntry

	cancel         context.CancelFunc
	availableGauge metric.Int64ObservableGauge
	totalGauge     metric.Int64ObservableGauge
}

// NewRegistry probes every backend once, announces the outcome and starts
// the periodic re-probe loop. busClient may be nil in tests; announcements
// are skipped.
func NewRegistry(ctx context.Context, cfg config.OrchestratorConfig, runtimeName string, backends map[string]recog.Recognizer, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:         cfg,
		runtimeName: runtimeName,
		log:         log.With(slog.String("component", "engine-registry")),
		bus:         busClient,
		engines:     make(map[string]*engineEntry),
		cancel:      cancel,
	}
	for id, rec := range backends {
		r.engines[id] = &engineEntry{rec: rec, desc: EngineDescriptor{Info: rec.Info()}}
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	r.ProbeAll(ctx)
	r.announce()

	if cfg.ReprobeIntervalMs > 0 {
		go r.reprobeLoop(ctx)
	}
	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.engines {
		if err := e.rec.Close(); err != nil {
			r.log.Warn("engine close failed", slog.String("engine", id), slog.String("error", err.Error()))
		}
	}
}

// ProbeAll refreshes availability for every registered engine.
func (r *Registry) ProbeAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for id, e := range r.engines {
		err := e.rec.Probe(ctx)
		e.desc.LastProbe = now
		e.desc.Available = err == nil
		e.desc.Reason = ""
		if err != nil {
			e.desc.Reason = err.Error()
			r.log.Debug("engine unavailable", slog.String("engine", id), slog.String("reason", err.Error()))
		}
	}
}

func (r *Registry) reprobeLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(r.cfg.ReprobeIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ProbeAll(ctx)
			r.announce()
		}
	}
}

// Select returns the first available engine in priority order. The mock
// engine participates only when enabled. ok is false when nothing is
// available, in which case callers use the rule-based fallback.
func (r *Registry) Select() (recog.Recognizer, EngineDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.priority() {
		e, ok := r.engines[id]
		if !ok || !e.desc.Available {
			continue
		}
		return e.rec, e.desc, true
	}
	return nil, EngineDescriptor{}, false
}

// After returns the next available engine in priority order after the
// given one, for falling through on a failed attempt.
func (r *Registry) After(engineID string) (recog.Recognizer, EngineDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	passed := false
	for _, id := range r.priority() {
		if id == engineID {
			passed = true
			continue
		}
		if !passed {
			continue
		}
		e, ok := r.engines[id]
		if !ok || !e.desc.Available {
			continue
		}
		return e.rec, e.desc, true
	}
	return nil, EngineDescriptor{}, false
}

// MarkUnavailable records a runtime failure for an engine so subsequent
// selections skip it until the next successful probe.
func (r *Registry) MarkUnavailable(engineID, reason string) {
	r.mu.Lock()
	if e, ok := r.engines[engineID]; ok {
		e.desc.Available = false
		e.desc.Reason = reason
	}
	r.mu.Unlock()
	r.announce()
}

// Descriptors returns a snapshot of every engine's state.
func (r *Registry) Descriptors() []EngineDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EngineDescriptor, 0, len(r.engines))
	for _, id := range r.priority() {
		if e, ok := r.engines[id]; ok {
			out = append(out, e.desc)
		}
	}
	return out
}

func (r *Registry) priority() []string {
	var order []string
	for _, id := range r.cfg.EnginePriority {
		if id == "mock" && !r.cfg.EnableMock {
			continue
		}
		order = append(order, id)
	}
	return order
}

func (r *Registry) announce() {
	if r.bus == nil {
		return
	}
	r.mu.RLock()
	msg := protocol.EngineAnnounce{
		RuntimeName: r.runtimeName,
		Timestamp:   time.Now().UTC(),
	}
	for _, id := range r.priority() {
		e, ok := r.engines[id]
		if !ok {
			continue
		}
		msg.Engines = append(msg.Engines, protocol.EngineStatus{
			ID:        e.desc.Info.ID,
			Name:      e.desc.Info.Name,
			Available: e.desc.Available,
			Reason:    e.desc.Reason,
			Offline:   e.desc.Info.Offline,
			Latency:   e.desc.Info.Latency,
			Accuracy:  e.desc.Info.Accuracy,
		})
		if msg.Selected == "" && e.desc.Available {
			msg.Selected = id
		}
	}
	r.mu.RUnlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		r.log.Warn("failed to marshal engine announce", slog.String("error", err.Error()))
		return
	}
	if err := r.bus.Conn().Publish(protocol.SubjectEngineAnnounce, payload); err != nil {
		r.log.Warn("failed to publish engine announce", slog.String("error", err.Error()))
	}
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/falalabs/fala-core/runtime")
	available, err := meter.Int64ObservableGauge("fala.engines.available",
		metric.WithDescription("Number of available recognition engines"))
	if err != nil {
		return err
	}
	total, err := meter.Int64ObservableGauge("fala.engines.total",
		metric.WithDescription("Number of registered recognition engines"))
	if err != nil {
		return err
	}
	r.availableGauge = available
	r.totalGauge = total
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		avail, count := r.snapshotCounts()
		obs.ObserveInt64(available, avail)
		obs.ObserveInt64(total, count)
		return nil
	}, available, total)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var avail, total int64
	for _, e := range r.engines {
		total++
		if e.desc.Available {
			avail++
		}
	}
	return avail, total
}

// BuildBackends constructs the recognizer set from configuration. The mock
// backend is always registered; exec and http join when configured.
func BuildBackends(cfg config.RecognitionConfig) (map[string]recog.Recognizer, error) {
	backends := map[string]recog.Recognizer{
		"mock": recog.NewMockRecognizer(recog.MockScript{}),
	}
	if cfg.Command != "" {
		exec, err := recog.NewExecRecognizer(recog.ExecConfig{
			Command:   cfg.Command,
			ModelPath: cfg.ModelPath,
		})
		if err != nil {
			return nil, err
		}
		backends["exec"] = exec
	}
	if cfg.Endpoint != "" {
		backends["http"] = recog.NewHTTPRecognizer(recog.HTTPConfig{
			Endpoint:  cfg.Endpoint,
			APIKey:    cfg.APIKey,
			TimeoutMs: cfg.TimeoutMs,
		})
	}
	return backends, nil
}
