// Package store provides the SQLite database behind tscbot: the FAQ
// knowledge table the retrieval snapshot is built from, and the append-only
// usage-event table that records what users asked and which question
// matched. The hot-questions ranking is computed from the usage events.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/cynthiaiii4/TSCBot/internal/knowledge"
)

// ErrEmptySource is returned by ReplaceSource when no source name is given.
var ErrEmptySource = errors.New("store: source name must not be empty")

// EventKind identifies what a usage event records.
type EventKind string

const (
	// EventQuery records an inbound user message.
	EventQuery EventKind = "query"
	// EventTopMatch records the best-ranked question for a query.
	EventTopMatch EventKind = "top_match"
)

// Event is a single usage-log row.
type Event struct {
	// ID is a UUID; generated on append when empty.
	ID string
	// Kind is the event kind.
	Kind EventKind
	// UserID is the opaque messaging-gateway user identifier. May be empty.
	UserID string
	// Text is the user message (EventQuery) or matched question (EventTopMatch).
	Text string
	// CreatedAt is when the event happened; defaults to now on append.
	CreatedAt time.Time
}

// QuestionCount is one row of the hot-questions ranking.
type QuestionCount struct {
	Question string
	Count    int
}

// UsageStore persists usage events. Implementations must be safe for
// concurrent use.
type UsageStore interface {
	// AppendEvent persists a single usage event.
	AppendEvent(ctx context.Context, ev Event) error
	// HotQuestions returns the n most frequent top-match questions.
	HotQuestions(ctx context.Context, n int) ([]QuestionCount, error)
}

// SQLiteStore is backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// now is the clock; overridden in tests.
	now func() time.Time
}

// DefaultDBPath returns ~/.tscbot/tscbot.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".tscbot")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "tscbot.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single connection: serialises writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS faq (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    source    TEXT NOT NULL,
    category  TEXT NOT NULL DEFAULT '',
    question  TEXT NOT NULL,
    answer    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_faq_source ON faq (source);

CREATE TABLE IF NOT EXISTS usage_events (
    id          TEXT    PRIMARY KEY,
    kind        TEXT    NOT NULL CHECK(kind IN ('query','top_match')),
    user_id     TEXT    NOT NULL DEFAULT '',
    text        TEXT    NOT NULL,
    created_at  INTEGER NOT NULL  -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_usage_events_kind_text
    ON usage_events (kind, text);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// ReplaceSource atomically replaces every record imported under source with
// recs, preserving their order. Returns the number of rows written.
func (s *SQLiteStore) ReplaceSource(ctx context.Context, source string, recs []knowledge.Record) (int, error) {
	if source == "" {
		return 0, ErrEmptySource
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM faq WHERE source = ?`, source); err != nil {
		return 0, fmt.Errorf("store: clear source %q: %w", source, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO faq (source, category, question, answer) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, source, r.Category, r.Question, r.Answer); err != nil {
			return 0, fmt.Errorf("store: insert %q: %w", r.Question, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return len(recs), nil
}

// LoadRecords returns every stored record in insertion order. This order is
// the corpus order, so it decides tie-breaks in ranking.
func (s *SQLiteStore) LoadRecords(ctx context.Context) ([]knowledge.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, category, question, answer FROM faq ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: load records: %w", err)
	}
	defer rows.Close()

	var recs []knowledge.Record
	for rows.Next() {
		var r knowledge.Record
		if err := rows.Scan(&r.Source, &r.Category, &r.Question, &r.Answer); err != nil {
			return nil, fmt.Errorf("store: load records scan: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load records rows: %w", err)
	}
	return recs, nil
}

// AppendEvent persists a single usage event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	const q = `INSERT INTO usage_events (id, kind, user_id, text, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, ev.ID, string(ev.Kind), ev.UserID, ev.Text, ev.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

// HotQuestions returns the n questions most often recorded as top match.
// Equal counts are ordered by which question was first matched.
func (s *SQLiteStore) HotQuestions(ctx context.Context, n int) ([]QuestionCount, error) {
	const q = `
SELECT text, COUNT(*) AS hits
FROM   usage_events
WHERE  kind = 'top_match'
GROUP  BY text
ORDER  BY hits DESC, MIN(created_at) ASC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: hot questions: %w", err)
	}
	defer rows.Close()

	var out []QuestionCount
	for rows.Next() {
		var qc QuestionCount
		if err := rows.Scan(&qc.Question, &qc.Count); err != nil {
			return nil, fmt.Errorf("store: hot questions scan: %w", err)
		}
		out = append(out, qc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: hot questions rows: %w", err)
	}
	return out, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
