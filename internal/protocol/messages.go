// Package protocol defines the JSON messages exchanged on the bus between
// the practice service and UI/telemetry collaborators.
package protocol

import "time"

// PracticeRequest asks the practice service to run one pronunciation test.
type PracticeRequest struct {
	RequestID    string `json:"request_id"`
	ExpectedText string `json:"expected_text"`
	Language     string `json:"language,omitempty"`
	MaxAttempts  int    `json:"max_attempts,omitempty"`
	TimeoutMs    int    `json:"timeout_ms,omitempty"`
}

// AttemptEvent marks the start or end of one capture+recognize+assess pass.
type AttemptEvent struct {
	RequestID  string    `json:"request_id"`
	AttemptID  string    `json:"attempt_id"`
	Attempt    int       `json:"attempt"`
	Engine     string    `json:"engine,omitempty"`
	HeardText  string    `json:"heard_text,omitempty"`
	Score      int       `json:"score,omitempty"`
	Tier       string    `json:"tier,omitempty"`
	NoSpeech   bool      `json:"no_speech,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StageEvent marks a pipeline stage transition within one attempt, letting
// the UI show recording and processing indicators.
type StageEvent struct {
	RequestID string    `json:"request_id"`
	AttemptID string    `json:"attempt_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LevelUpdate is a live input meter reading bridged from the recorder.
type LevelUpdate struct {
	RequestID string    `json:"request_id"`
	Level     float64   `json:"level"`
	Peak      float64   `json:"peak"`
	Timestamp time.Time `json:"timestamp"`
}

// PracticeResult is the final outcome of a practice request: the best
// attempt plus bookkeeping for the lesson UI.
type PracticeResult struct {
	RequestID    string    `json:"request_id"`
	ExpectedText string    `json:"expected_text"`
	HeardText    string    `json:"heard_text"`
	Score        int       `json:"score"`
	Tier         string    `json:"tier"`
	Message      string    `json:"message,omitempty"`
	Tips         []string  `json:"tips,omitempty"`
	ReplayAudio  bool      `json:"replay_audio"`
	Language     string    `json:"language,omitempty"`
	Engine       string    `json:"engine"`
	Attempts     int       `json:"attempts"`
	Improved     bool      `json:"improved"`
	NoSpeech     bool      `json:"no_speech"`
	Timestamp    time.Time `json:"timestamp"`
}

// PracticeError reports a failed practice request with its fault code.
type PracticeError struct {
	RequestID   string    `json:"request_id"`
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	Hint        string    `json:"hint,omitempty"`
	Recoverable bool      `json:"recoverable"`
	Timestamp   time.Time `json:"timestamp"`
}

// EngineStatus describes one recognition backend's availability.
type EngineStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	Offline   bool   `json:"offline"`
	Latency   string `json:"latency,omitempty"`
	Accuracy  string `json:"accuracy,omitempty"`
}

// EngineAnnounce is broadcast whenever backend availability is (re)probed.
type EngineAnnounce struct {
	RuntimeName string         `json:"runtime_name"`
	Engines     []EngineStatus `json:"engines"`
	Selected    string         `json:"selected"`
	Timestamp   time.Time      `json:"timestamp"`
}

const (
	SubjectPracticeRequest = "practice.request"
	SubjectAttemptStart    = "practice.attempt.start"
	SubjectAttemptEnd      = "practice.attempt.end"
	SubjectRecording       = "practice.recording.started"
	SubjectRecordingDone   = "practice.recording.stopped"
	SubjectProcessing      = "practice.processing"
	SubjectLevel           = "practice.level"
	SubjectResult          = "practice.result"
	SubjectError           = "practice.error"
	SubjectEngineAnnounce  = "ctrl.engine.announce"
)
