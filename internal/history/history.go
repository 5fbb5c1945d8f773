// Package history persists finished utterances to a local SQLite database so
// past dictations can be reviewed or re-inserted. Persistence is optional:
// with an empty path the store is a no-op.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Utterance is one finished dictation written to the store.
type Utterance struct {
	ID         string
	SessionID  string
	Text       string
	RawText    string // pre-enhancement transcript; equals Text when no LLM ran
	Confidence float64
	Duration   time.Duration
	CreatedAt  time.Time
}

// Config controls persistence and retention.
type Config struct {
	// Path is the SQLite database file. Empty disables persistence.
	Path string

	// RetentionDays prunes utterances older than this on open. Zero keeps
	// everything.
	RetentionDays int
}

// Store wraps the SQLite-backed utterance history.
type Store struct {
	db    *sql.DB
	cfg   Config
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store. With an empty path a no-op store is
// returned.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Path == "" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history: prune on open failed", "err", err)
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS utterances (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    text TEXT NOT NULL,
    raw_text TEXT NOT NULL,
    confidence REAL,
    duration_ms INTEGER,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_utterances_created ON utterances(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("history: init schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes one utterance. Missing ID and CreatedAt are filled in.
func (s *Store) Append(ctx context.Context, u Utterance) error {
	if s.db == nil {
		return nil
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.clock().UTC()
	}
	// Timestamps are stored as RFC3339Nano text so Recent can parse them
	// back without depending on the driver's time formatting.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO utterances(id, session_id, text, raw_text, confidence, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.SessionID, u.Text, u.RawText, u.Confidence, u.Duration.Milliseconds(),
		u.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent retrieves up to limit utterances ordered newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Utterance, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, text, raw_text, confidence, duration_ms, created_at
		 FROM utterances ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Utterance
	for rows.Next() {
		var u Utterance
		var durationMs int64
		var created string
		if err := rows.Scan(&u.ID, &u.SessionID, &u.Text, &u.RawText, &u.Confidence, &durationMs, &created); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		u.Duration = time.Duration(durationMs) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			u.CreatedAt = ts
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Prune applies the configured retention window.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	_, err := s.db.ExecContext(ctx, `DELETE FROM utterances WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("history: prune: %w", err)
	}
	return nil
}
