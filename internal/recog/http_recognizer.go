package recog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/falalabs/fala-core/internal/dsp"
	"github.com/falalabs/fala-core/internal/faults"
)

// HTTPConfig configures the cloud scoring backend.
type HTTPConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// httpRecognizer posts the utterance as a WAV body to a cloud
// speech-to-text service and reads ranked hypotheses back.
type httpRecognizer struct {
	cfg    HTTPConfig
	client *http.Client
}

type httpHypothesis struct {
	Utterance  string  `json:"utterance"`
	Confidence float64 `json:"confidence"`
}

type httpResponse struct {
	Hypotheses []httpHypothesis `json:"hypotheses"`
	ErrorCode  int              `json:"errorCode,omitempty"`
	Message    string           `json:"message,omitempty"`
}

func NewHTTPRecognizer(cfg HTTPConfig) Recognizer {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpRecognizer{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (r *httpRecognizer) Info() BackendInfo {
	return BackendInfo{
		ID:       "http",
		Name:     "cloud scoring service",
		Offline:  false,
		Latency:  "high",
		Accuracy: "highest",
	}
}

// Probe checks configuration only; the service is not contacted until the
// first real utterance so an unreachable endpoint degrades at use time.
func (r *httpRecognizer) Probe(ctx context.Context) error {
	if r.cfg.Endpoint == "" || r.cfg.APIKey == "" {
		return faults.New(faults.CodeServiceUnavailable,
			fmt.Errorf("cloud recognizer not configured"))
	}
	return nil
}

func (r *httpRecognizer) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *httpRecognizer) Recognize(ctx context.Context, pcm []float32, sampleRate int, opts Options) (<-chan Update, error) {
	if r.cfg.Endpoint == "" || r.cfg.APIKey == "" {
		return nil, faults.New(faults.CodeServiceUnavailable,
			fmt.Errorf("cloud recognizer not configured"))
	}
	out := make(chan Update, 4)
	go func() {
		defer close(out)
		res, err := r.transcribe(ctx, pcm, sampleRate, opts)
		if err != nil {
			out <- Update{Kind: UpdateError, Err: err}
			return
		}
		out <- Update{Kind: UpdateSpeechEnd}
		out <- Update{Kind: UpdateFinal, Result: res}
	}()
	return out, nil
}

func (r *httpRecognizer) transcribe(ctx context.Context, pcm []float32, sampleRate int, opts Options) (Result, error) {
	body := dsp.EncodeWAV(pcm, sampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, faults.New(faults.CodeServiceUnavailable, err)
	}
	req.Header.Set("api-key", r.cfg.APIKey)
	req.Header.Set("Content-Type", "audio/wav")
	if opts.Language != "" {
		req.Header.Set("Accept-Language", opts.Language)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, faults.New(faults.CodeSessionAborted, ctx.Err())
		}
		return Result{}, faults.New(faults.CodeNetwork, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, faults.New(faults.CodeNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, faults.New(faults.CodeServiceUnavailable,
			fmt.Errorf("recognition service returned status %d", resp.StatusCode))
	}

	var decoded httpResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Result{}, faults.New(faults.CodeServiceUnavailable,
			fmt.Errorf("decode recognition response: %w", err))
	}
	if decoded.ErrorCode != 0 {
		return Result{}, faults.New(faults.CodeServiceUnavailable,
			fmt.Errorf("recognition service error %d: %s", decoded.ErrorCode, decoded.Message))
	}
	if len(decoded.Hypotheses) == 0 {
		return Result{}, faults.New(faults.CodeNoSpeech, nil)
	}

	best := decoded.Hypotheses[0]
	text := strings.TrimSpace(best.Utterance)
	if text == "" {
		return Result{}, faults.New(faults.CodeNoSpeech, nil)
	}

	max := opts.MaxAlternatives
	if max <= 0 {
		max = 1
	}
	var alts []string
	for _, h := range decoded.Hypotheses[1:] {
		if len(alts) >= max-1 {
			break
		}
		if alt := strings.TrimSpace(h.Utterance); alt != "" {
			alts = append(alts, alt)
		}
	}
	return Result{Text: text, Confidence: best.Confidence, Alternatives: alts}, nil
}
