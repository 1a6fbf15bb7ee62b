package recordlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS recordings (
    id           TEXT    PRIMARY KEY,
    script       TEXT    NOT NULL,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER,
    transcript   TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS line_completions (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    recording_id  TEXT    NOT NULL REFERENCES recordings (id) ON DELETE CASCADE,
    line          INTEGER NOT NULL,
    reason        TEXT    NOT NULL,
    text          TEXT    NOT NULL DEFAULT '',
    at            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_line_completions_recording
    ON line_completions (recording_id, seq);
`

// SQLite is a [Store] backed by a SQLite database file. Timestamps are kept
// with millisecond precision.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recordlog: open sqlite db: %w", err)
	}
	// One writer at a time keeps busy errors away.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("recordlog: apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recordlog: sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Start(ctx context.Context, rec Recording) error {
	script, err := json.Marshal(rec.ScriptLines)
	if err != nil {
		return fmt.Errorf("recordlog: encode script: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (id, script, started_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, string(script), rec.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("recordlog: start: %w", err)
	}
	return expectRow(res, ErrDuplicate)
}

func (s *SQLite) CompleteLine(ctx context.Context, recordingID string, lc LineCompletion) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO line_completions (recording_id, line, reason, text, at)
		 SELECT ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM recordings WHERE id = ?)`,
		recordingID, lc.Line, lc.Reason, lc.Text, lc.At.UnixMilli(), recordingID)
	if err != nil {
		return fmt.Errorf("recordlog: complete line: %w", err)
	}
	return expectRow(res, ErrNotFound)
}

func (s *SQLite) Finish(ctx context.Context, recordingID, transcript string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET transcript = ?, finished_at = ? WHERE id = ?`,
		transcript, at.UnixMilli(), recordingID)
	if err != nil {
		return fmt.Errorf("recordlog: finish: %w", err)
	}
	return expectRow(res, ErrNotFound)
}

func (s *SQLite) Get(ctx context.Context, recordingID string) (*RecordingLog, error) {
	var (
		l        RecordingLog
		script   string
		started  int64
		finished sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, script, started_at, finished_at, transcript FROM recordings WHERE id = ?`,
		recordingID).Scan(&l.ID, &script, &started, &finished, &l.Transcript)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("recordlog: get: %w", err)
	}
	if err := json.Unmarshal([]byte(script), &l.ScriptLines); err != nil {
		return nil, fmt.Errorf("recordlog: decode script: %w", err)
	}
	l.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		l.FinishedAt = time.UnixMilli(finished.Int64).UTC()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT line, reason, text, at FROM line_completions
		 WHERE recording_id = ? ORDER BY seq`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("recordlog: get lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			lc LineCompletion
			at int64
		)
		if err := rows.Scan(&lc.Line, &lc.Reason, &lc.Text, &at); err != nil {
			return nil, fmt.Errorf("recordlog: scan line: %w", err)
		}
		lc.At = time.UnixMilli(at).UTC()
		l.Lines = append(l.Lines, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recordlog: get lines: %w", err)
	}
	return &l, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// expectRow returns none when the statement affected no row.
func expectRow(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("recordlog: rows affected: %w", err)
	}
	if n == 0 {
		return none
	}
	return nil
}

var _ Store = (*SQLite)(nil)
