package recordlog

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is a [Store] that keeps everything in process memory.
type Memory struct {
	mu   sync.Mutex
	logs map[string]*RecordingLog
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{logs: make(map[string]*RecordingLog)}
}

func (m *Memory) Start(_ context.Context, rec Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.logs[rec.ID]; ok {
		return ErrDuplicate
	}
	rec.ScriptLines = slices.Clone(rec.ScriptLines)
	m.logs[rec.ID] = &RecordingLog{Recording: rec}
	return nil
}

func (m *Memory) CompleteLine(_ context.Context, recordingID string, lc LineCompletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[recordingID]
	if !ok {
		return ErrNotFound
	}
	l.Lines = append(l.Lines, lc)
	return nil
}

func (m *Memory) Finish(_ context.Context, recordingID, transcript string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[recordingID]
	if !ok {
		return ErrNotFound
	}
	l.Transcript = transcript
	l.FinishedAt = at
	return nil
}

// Get returns a copy; callers may modify it freely.
func (m *Memory) Get(_ context.Context, recordingID string) (*RecordingLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[recordingID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	cp.ScriptLines = slices.Clone(l.ScriptLines)
	cp.Lines = slices.Clone(l.Lines)
	return &cp, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
