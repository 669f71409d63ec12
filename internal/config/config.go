package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName  string             `yaml:"runtime_name"`
	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Bus          BusConfig          `yaml:"bus"`
	Store        StoreConfig        `yaml:"store"`
	Capture      CaptureConfig      `yaml:"capture"`
	DSP          DSPConfig          `yaml:"dsp"`
	Recognition  RecognitionConfig  `yaml:"recognition"`
	Assess       AssessConfig       `yaml:"assess"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type CaptureConfig struct {
	Device           string `yaml:"device"` // portaudio or none
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	MinDurationMs    int    `yaml:"min_duration_ms"`
	MaxDurationMs    int    `yaml:"max_duration_ms"`
	LevelIntervalMs  int    `yaml:"level_interval_ms"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	AutoGain         bool   `yaml:"auto_gain"`
}

type DSPConfig struct {
	TargetSampleRate int     `yaml:"target_sample_rate"`
	HighPassCutoffHz float64 `yaml:"high_pass_cutoff_hz"`
	HighPassQ        float64 `yaml:"high_pass_q"`
	NoiseWindowMs    int     `yaml:"noise_window_ms"`
	NoiseGateRatio   float64 `yaml:"noise_gate_ratio"`
	VADThreshold     float64 `yaml:"vad_threshold"`
	VADFrameMs       int     `yaml:"vad_frame_ms"`
	MinSpeechMs      int     `yaml:"min_speech_ms"`
	MinSilenceMs     int     `yaml:"min_silence_ms"`
	TrimPadMs        int     `yaml:"trim_pad_ms"`
}

type RecognitionConfig struct {
	Mode              string   `yaml:"mode"` // mock, exec, http
	Command           string   `yaml:"command"`
	ModelPath         string   `yaml:"model_path"`
	Endpoint          string   `yaml:"endpoint"`
	APIKey            string   `yaml:"api_key"`
	Language          string   `yaml:"language"`
	FallbackLanguages []string `yaml:"fallback_languages"`
	TimeoutMs         int      `yaml:"timeout_ms"`
	SettleMs          int      `yaml:"settle_ms"`
	MaxAlternatives   int      `yaml:"max_alternatives"`
	Interim           bool     `yaml:"interim"`
}

type AssessConfig struct {
	ExcellentScore int `yaml:"excellent_score"`
	GoodScore      int `yaml:"good_score"`
	FairScore      int `yaml:"fair_score"`
	MaxErrors      int `yaml:"max_errors"`
	CacheSize      int `yaml:"cache_size"`
}

type OrchestratorConfig struct {
	MaxAttempts        int      `yaml:"max_attempts"`
	ExcellentThreshold int      `yaml:"excellent_threshold"`
	EnginePriority     []string `yaml:"engine_priority"`
	EnableMock         bool     `yaml:"enable_mock"`
	ReprobeIntervalMs  int      `yaml:"reprobe_interval_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "fala-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path:          "./data/fala-attempts.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Capture: CaptureConfig{
			Device:           "portaudio",
			SampleRate:       16000,
			Channels:         1,
			MinDurationMs:    500,
			MaxDurationMs:    15000,
			LevelIntervalMs:  50,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGain:         true,
		},
		DSP: DSPConfig{
			TargetSampleRate: 16000,
			HighPassCutoffHz: 80,
			HighPassQ:        0.707,
			NoiseWindowMs:    100,
			NoiseGateRatio:   2.0,
			VADThreshold:     0.015,
			VADFrameMs:       20,
			MinSpeechMs:      200,
			MinSilenceMs:     300,
			TrimPadMs:        50,
		},
		Recognition: RecognitionConfig{
			Mode:              "mock",
			Language:          "pt-PT",
			FallbackLanguages: []string{"en-US"},
			TimeoutMs:         10000,
			SettleMs:          200,
			MaxAlternatives:   3,
			Interim:           true,
		},
		Assess: AssessConfig{
			ExcellentScore: 95,
			GoodScore:      80,
			FairScore:      60,
			MaxErrors:      3,
			CacheSize:      256,
		},
		Orchestrator: OrchestratorConfig{
			MaxAttempts:        3,
			ExcellentThreshold: 95,
			EnginePriority:     []string{"http", "exec", "mock"},
			EnableMock:         true,
			ReprobeIntervalMs:  30000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "FALA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "FALA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "FALA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "FALA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "FALA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "FALA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "FALA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "FALA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "FALA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "FALA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "FALA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "FALA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "FALA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "FALA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "FALA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "FALA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "FALA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "FALA_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "FALA_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "FALA_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "FALA_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "FALA_STORE_VACUUM_ON_START")
	overrideString(&cfg.Capture.Device, "FALA_CAPTURE_DEVICE")
	overrideInt(&cfg.Capture.SampleRate, "FALA_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "FALA_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.MinDurationMs, "FALA_CAPTURE_MIN_DURATION_MS")
	overrideInt(&cfg.Capture.MaxDurationMs, "FALA_CAPTURE_MAX_DURATION_MS")
	overrideInt(&cfg.Capture.LevelIntervalMs, "FALA_CAPTURE_LEVEL_INTERVAL_MS")
	overrideBool(&cfg.Capture.EchoCancellation, "FALA_CAPTURE_ECHO_CANCELLATION")
	overrideBool(&cfg.Capture.NoiseSuppression, "FALA_CAPTURE_NOISE_SUPPRESSION")
	overrideBool(&cfg.Capture.AutoGain, "FALA_CAPTURE_AUTO_GAIN")
	overrideInt(&cfg.DSP.TargetSampleRate, "FALA_DSP_TARGET_SAMPLE_RATE")
	overrideFloat(&cfg.DSP.HighPassCutoffHz, "FALA_DSP_HIGH_PASS_CUTOFF_HZ")
	overrideFloat(&cfg.DSP.HighPassQ, "FALA_DSP_HIGH_PASS_Q")
	overrideInt(&cfg.DSP.NoiseWindowMs, "FALA_DSP_NOISE_WINDOW_MS")
	overrideFloat(&cfg.DSP.NoiseGateRatio, "FALA_DSP_NOISE_GATE_RATIO")
	overrideFloat(&cfg.DSP.VADThreshold, "FALA_DSP_VAD_THRESHOLD")
	overrideInt(&cfg.DSP.VADFrameMs, "FALA_DSP_VAD_FRAME_MS")
	overrideInt(&cfg.DSP.MinSpeechMs, "FALA_DSP_MIN_SPEECH_MS")
	overrideInt(&cfg.DSP.MinSilenceMs, "FALA_DSP_MIN_SILENCE_MS")
	overrideInt(&cfg.DSP.TrimPadMs, "FALA_DSP_TRIM_PAD_MS")
	overrideString(&cfg.Recognition.Mode, "FALA_RECOGNITION_MODE")
	overrideString(&cfg.Recognition.Command, "FALA_RECOGNITION_COMMAND")
	overrideString(&cfg.Recognition.ModelPath, "FALA_RECOGNITION_MODEL_PATH")
	overrideString(&cfg.Recognition.Endpoint, "FALA_RECOGNITION_ENDPOINT")
	overrideString(&cfg.Recognition.APIKey, "FALA_RECOGNITION_API_KEY")
	overrideString(&cfg.Recognition.Language, "FALA_RECOGNITION_LANGUAGE")
	overrideStringSlice(&cfg.Recognition.FallbackLanguages, "FALA_RECOGNITION_FALLBACK_LANGUAGES")
	overrideInt(&cfg.Recognition.TimeoutMs, "FALA_RECOGNITION_TIMEOUT_MS")
	overrideInt(&cfg.Recognition.SettleMs, "FALA_RECOGNITION_SETTLE_MS")
	overrideInt(&cfg.Recognition.MaxAlternatives, "FALA_RECOGNITION_MAX_ALTERNATIVES")
	overrideBool(&cfg.Recognition.Interim, "FALA_RECOGNITION_INTERIM")
	overrideInt(&cfg.Assess.ExcellentScore, "FALA_ASSESS_EXCELLENT_SCORE")
	overrideInt(&cfg.Assess.GoodScore, "FALA_ASSESS_GOOD_SCORE")
	overrideInt(&cfg.Assess.FairScore, "FALA_ASSESS_FAIR_SCORE")
	overrideInt(&cfg.Assess.MaxErrors, "FALA_ASSESS_MAX_ERRORS")
	overrideInt(&cfg.Assess.CacheSize, "FALA_ASSESS_CACHE_SIZE")
	overrideInt(&cfg.Orchestrator.MaxAttempts, "FALA_ORCHESTRATOR_MAX_ATTEMPTS")
	overrideInt(&cfg.Orchestrator.ExcellentThreshold, "FALA_ORCHESTRATOR_EXCELLENT_THRESHOLD")
	overrideStringSlice(&cfg.Orchestrator.EnginePriority, "FALA_ORCHESTRATOR_ENGINE_PRIORITY")
	overrideBool(&cfg.Orchestrator.EnableMock, "FALA_ORCHESTRATOR_ENABLE_MOCK")
	overrideInt(&cfg.Orchestrator.ReprobeIntervalMs, "FALA_ORCHESTRATOR_REPROBE_INTERVAL_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Capture.Device {
	case "portaudio", "none":
	default:
		return errors.New("capture.device must be one of portaudio|none")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.MaxDurationMs > 0 && cfg.Capture.MaxDurationMs < cfg.Capture.MinDurationMs {
		return errors.New("capture.max_duration_ms must be >= min_duration_ms")
	}
	if cfg.DSP.TargetSampleRate <= 0 {
		return errors.New("dsp.target_sample_rate must be positive")
	}
	if cfg.DSP.VADThreshold <= 0 || cfg.DSP.VADThreshold >= 1 {
		return errors.New("dsp.vad_threshold must be in (0, 1)")
	}
	if cfg.DSP.MinSpeechMs <= 0 || cfg.DSP.MinSilenceMs <= 0 {
		return errors.New("dsp.min_speech_ms and dsp.min_silence_ms must be positive")
	}
	switch cfg.Recognition.Mode {
	case "mock", "exec", "http":
	default:
		return errors.New("recognition.mode must be one of mock|exec|http")
	}
	if cfg.Recognition.Mode == "exec" && cfg.Recognition.Command == "" {
		return errors.New("recognition.command must be set when mode=exec")
	}
	if cfg.Recognition.Mode == "http" && cfg.Recognition.Endpoint == "" {
		return errors.New("recognition.endpoint must be set when mode=http")
	}
	if cfg.Recognition.Language == "" {
		return errors.New("recognition.language must not be empty")
	}
	if cfg.Recognition.TimeoutMs <= 0 {
		return errors.New("recognition.timeout_ms must be positive")
	}
	if !(cfg.Assess.ExcellentScore > cfg.Assess.GoodScore &&
		cfg.Assess.GoodScore > cfg.Assess.FairScore &&
		cfg.Assess.FairScore > 0) {
		return errors.New("assess tier thresholds must satisfy excellent > good > fair > 0")
	}
	if cfg.Assess.MaxErrors < 0 {
		return errors.New("assess.max_errors must be >= 0")
	}
	if cfg.Orchestrator.MaxAttempts <= 0 {
		return errors.New("orchestrator.max_attempts must be >= 1")
	}
	if cfg.Orchestrator.ExcellentThreshold <= 0 || cfg.Orchestrator.ExcellentThreshold > 100 {
		return errors.New("orchestrator.excellent_threshold must be in (0, 100]")
	}
	if len(cfg.Orchestrator.EnginePriority) == 0 {
		return errors.New("orchestrator.engine_priority must not be empty")
	}
	for _, engine := range cfg.Orchestrator.EnginePriority {
		switch engine {
		case "http", "exec", "mock":
		default:
			return fmt.Errorf("orchestrator.engine_priority contains unknown engine %q", engine)
		}
	}
	return nil
}
