// Package eventstore persists practice sessions and their pronunciation
// attempts in SQLite, with configurable retention.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/falalabs/fala-core/internal/config"
)

// Attempt is one recorded capture+recognize+assess pass.
type Attempt struct {
	ID         int64
	SessionID  string
	AttemptID  string
	AttemptNo  int
	Engine     string
	Expected   string
	Heard      string
	Score      int
	Tier       string
	Language   string
	NoSpeech   bool
	DurationMs int64
	CreatedAt  time.Time
}

// Store wraps a SQLite-backed attempt history.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the attempt store according to config. Ephemeral mode
// keeps nothing and turns every write into a no-op.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("attempt store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("attempt store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    expected_text TEXT NOT NULL,
    language TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    attempt_id TEXT NOT NULL,
    attempt_no INTEGER NOT NULL,
    engine TEXT,
    expected_text TEXT NOT NULL,
    heard_text TEXT,
    score INTEGER NOT NULL,
    tier TEXT NOT NULL,
    language TEXT,
    no_speech INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_attempts_session_created ON attempts(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginSession ensures a session row exists for a practice request.
func (s *Store) BeginSession(ctx context.Context, sessionID, expectedText, language string) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, expected_text, language, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET expected_text=excluded.expected_text, language=excluded.language`,
		sessionID, expectedText, language, s.clock().UTC())
	return err
}

// AppendAttempt writes one attempt row.
func (s *Store) AppendAttempt(ctx context.Context, a Attempt) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.clock().UTC()
	}
	noSpeech := 0
	if a.NoSpeech {
		noSpeech = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts(session_id, attempt_id, attempt_no, engine, expected_text, heard_text, score, tier, language, no_speech, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.AttemptID, a.AttemptNo, a.Engine, a.Expected, a.Heard, a.Score, a.Tier, a.Language, noSpeech, a.DurationMs, a.CreatedAt)
	return err
}

// ListSessionAttempts retrieves up to limit attempts for a session ordered
// ascending by time.
func (s *Store) ListSessionAttempts(ctx context.Context, sessionID string, limit int) ([]Attempt, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, attempt_id, attempt_no, engine, expected_text, heard_text, score, tier, language, no_speech, duration_ms, created_at
		 FROM attempts WHERE session_id = ? ORDER BY created_at ASC, attempt_no ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var noSpeech int
		var created string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.AttemptID, &a.AttemptNo, &a.Engine, &a.Expected, &a.Heard, &a.Score, &a.Tier, &a.Language, &noSpeech, &a.DurationMs, &created); err != nil {
			return nil, err
		}
		a.NoSpeech = noSpeech != 0
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			a.CreatedAt = ts
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// BestScore returns the highest score recorded for a session, or -1 when no
// attempts exist.
func (s *Store) BestScore(ctx context.Context, sessionID string) (int, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return -1, nil
	}
	var best sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(score) FROM attempts WHERE session_id = ?`, sessionID).Scan(&best)
	if err != nil {
		return -1, err
	}
	if !best.Valid {
		return -1, nil
	}
	return int(best.Int64), nil
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM attempts WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Ensure supplies a no-op store when persistence disabled.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
