package recordlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlRecordings = `
CREATE TABLE IF NOT EXISTS recordings (
    id           TEXT         PRIMARY KEY,
    script       TEXT[]       NOT NULL,
    started_at   TIMESTAMPTZ  NOT NULL,
    finished_at  TIMESTAMPTZ,
    transcript   TEXT         NOT NULL DEFAULT ''
);
`

const ddlLineCompletions = `
CREATE TABLE IF NOT EXISTS line_completions (
    seq           BIGSERIAL    PRIMARY KEY,
    recording_id  TEXT         NOT NULL REFERENCES recordings (id) ON DELETE CASCADE,
    line          INTEGER      NOT NULL,
    reason        TEXT         NOT NULL,
    text          TEXT         NOT NULL DEFAULT '',
    at            TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_line_completions_recording
    ON line_completions (recording_id, seq);
`

// Migrate creates the recording tables if they do not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlRecordings, ddlLineCompletions} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("recordlog: postgres migrate: %w", err)
		}
	}
	return nil
}

// Postgres is a [Store] backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection and runs [Migrate].
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("recordlog: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("recordlog: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("recordlog: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Start(ctx context.Context, rec Recording) error {
	script := rec.ScriptLines
	if script == nil {
		script = []string{}
	}
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO recordings (id, script, started_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, script, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("recordlog: start: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (p *Postgres) CompleteLine(ctx context.Context, recordingID string, lc LineCompletion) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO line_completions (recording_id, line, reason, text, at)
		 SELECT $1, $2, $3, $4, $5
		 WHERE EXISTS (SELECT 1 FROM recordings WHERE id = $1)`,
		recordingID, lc.Line, lc.Reason, lc.Text, lc.At)
	if err != nil {
		return fmt.Errorf("recordlog: complete line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Finish(ctx context.Context, recordingID, transcript string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE recordings SET transcript = $2, finished_at = $3 WHERE id = $1`,
		recordingID, transcript, at)
	if err != nil {
		return fmt.Errorf("recordlog: finish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, recordingID string) (*RecordingLog, error) {
	var (
		l        RecordingLog
		finished *time.Time
	)
	err := p.pool.QueryRow(ctx,
		`SELECT id, script, started_at, finished_at, transcript FROM recordings WHERE id = $1`,
		recordingID).Scan(&l.ID, &l.ScriptLines, &l.StartedAt, &finished, &l.Transcript)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("recordlog: get: %w", err)
	}
	if finished != nil {
		l.FinishedAt = *finished
	}

	rows, err := p.pool.Query(ctx,
		`SELECT line, reason, text, at FROM line_completions
		 WHERE recording_id = $1 ORDER BY seq`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("recordlog: get lines: %w", err)
	}
	l.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (LineCompletion, error) {
		var lc LineCompletion
		err := row.Scan(&lc.Line, &lc.Reason, &lc.Text, &lc.At)
		return lc, err
	})
	if err != nil {
		return nil, fmt.Errorf("recordlog: collect lines: %w", err)
	}
	return &l, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

var _ Store = (*Postgres)(nil)
