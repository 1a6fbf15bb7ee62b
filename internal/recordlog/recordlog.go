// Package recordlog persists what happened during a teleprompter recording:
// the script, every completed line with the reason it advanced, and the final
// transcript.
//
// Three backends share the [Store] interface: PostgreSQL via pgx, SQLite via
// modernc.org/sqlite, and an in-memory map. [Open] selects one from a DSN.
package recordlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for an unknown recording ID.
	ErrNotFound = errors.New("recordlog: recording not found")

	// ErrDuplicate is returned by Start when the ID is already taken.
	ErrDuplicate = errors.New("recordlog: recording already exists")
)

// Recording identifies one take of a script.
type Recording struct {
	ID          string
	ScriptLines []string
	StartedAt   time.Time
}

// LineCompletion is one line leaving the teleprompter, in completion order.
type LineCompletion struct {
	Line   int
	Reason string
	Text   string
	At     time.Time
}

// RecordingLog is a stored recording with its completions.
type RecordingLog struct {
	Recording
	Lines      []LineCompletion
	Transcript string

	// FinishedAt is zero while the recording is still running.
	FinishedAt time.Time
}

// Finished reports whether Finish was called for the recording.
func (l *RecordingLog) Finished() bool { return !l.FinishedAt.IsZero() }

// Store records teleprompter progress. Implementations are safe for
// concurrent use.
type Store interface {
	// Start registers a new recording. It returns [ErrDuplicate] if the ID
	// is already known.
	Start(ctx context.Context, rec Recording) error

	// CompleteLine appends a line completion to the recording.
	CompleteLine(ctx context.Context, recordingID string, lc LineCompletion) error

	// Finish stores the final transcript and marks the recording finished.
	Finish(ctx context.Context, recordingID, transcript string, at time.Time) error

	// Get returns the recording with its completions in the order they were
	// recorded.
	Get(ctx context.Context, recordingID string) (*RecordingLog, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// NewID returns a fresh recording ID.
func NewID() string { return uuid.NewString() }

// Open returns the backend selected by dsn:
//
//   - "" or "memory:": in-memory
//   - "postgres://..." or "postgresql://...": PostgreSQL, schema migrated
//   - "sqlite:<path>": SQLite database file at path
//   - "file:<path>[?params]": SQLite, DSN passed to the driver as is
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "" || dsn == "memory:":
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	case strings.HasPrefix(dsn, "sqlite:"):
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "file:"):
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("recordlog: unsupported dsn %q", dsn)
	}
}
