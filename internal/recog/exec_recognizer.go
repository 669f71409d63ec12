package recog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"github.com/falalabs/fala-core/internal/faults"
)

// ExecConfig configures the local model backend.
type ExecConfig struct {
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
}

// execRecognizer shells out to a local whisper-style CLI: the utterance is
// written to a temp WAV, the command prints a JSON result on stdout.
type execRecognizer struct {
	cmd []string
	cfg ExecConfig
	mu  sync.Mutex
}

type execResult struct {
	Text         string   `json:"text"`
	Confidence   float64  `json:"confidence"`
	Alternatives []string `json:"alternatives"`
}

func NewExecRecognizer(cfg ExecConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Info() BackendInfo {
	return BackendInfo{
		ID:       "exec",
		Name:     "local model",
		Offline:  true,
		Latency:  "medium",
		Accuracy: "high",
	}
}

func (r *execRecognizer) Probe(ctx context.Context) error {
	if _, err := exec.LookPath(r.cmd[0]); err != nil {
		return faults.New(faults.CodeServiceUnavailable, err)
	}
	if r.cfg.ModelPath != "" {
		if _, err := os.Stat(r.cfg.ModelPath); err != nil {
			return faults.New(faults.CodeServiceUnavailable, err)
		}
	}
	return nil
}

func (r *execRecognizer) Close() error { return nil }

func (r *execRecognizer) Recognize(ctx context.Context, pcm []float32, sampleRate int, opts Options) (<-chan Update, error) {
	out := make(chan Update, 4)
	go func() {
		defer close(out)
		res, err := r.transcribe(ctx, pcm, sampleRate, opts)
		if err != nil {
			out <- Update{Kind: UpdateError, Err: err}
			return
		}
		if strings.TrimSpace(res.Text) == "" {
			out <- Update{Kind: UpdateError, Err: faults.New(faults.CodeNoSpeech, nil)}
			return
		}
		out <- Update{Kind: UpdateSpeechEnd}
		out <- Update{Kind: UpdateFinal, Result: res}
	}()
	return out, nil
}

// transcribe runs one command invocation per utterance; the backend is not
// reentrant because invocations share the local model.
func (r *execRecognizer) transcribe(ctx context.Context, pcm []float32, sampleRate int, opts Options) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "fala_recog_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeWAV(file, pcm, sampleRate); err != nil {
		return Result{}, err
	}

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if r.cfg.ModelPath != "" {
		args = append(args, "--model", r.cfg.ModelPath)
	}
	if opts.Language != "" {
		args = append(args, "--language", baseTag(opts.Language))
	}
	if opts.MaxAlternatives > 0 {
		args = append(args, "--alternatives", fmt.Sprint(opts.MaxAlternatives))
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, faults.New(faults.CodeSessionAborted, ctx.Err())
		}
		return Result{}, faults.New(faults.CodeServiceUnavailable,
			fmt.Errorf("recognizer command failed: %w: %s", err, stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, faults.New(faults.CodeServiceUnavailable,
			fmt.Errorf("decode recognizer response: %w", err))
	}
	return Result{
		Text:         resp.Text,
		Confidence:   resp.Confidence,
		Alternatives: resp.Alternatives,
	}, nil
}

// writeWAV encodes float32 samples as 16-bit mono PCM for the command line
// model, clamping into [-1, 1].
func writeWAV(file *os.File, pcm []float32, sampleRate int) error {
	buffer := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   make([]int, len(pcm)),
	}
	for i, s := range pcm {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buffer.Data[i] = int(int16(s * 32767))
	}

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
