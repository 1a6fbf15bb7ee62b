package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/scriptcue/internal/config"
	"github.com/MrWong99/scriptcue/internal/observe"
	"github.com/MrWong99/scriptcue/internal/recordlog"
	"github.com/MrWong99/scriptcue/internal/teleprompter"
	"github.com/MrWong99/scriptcue/pkg/align"
	"github.com/MrWong99/scriptcue/pkg/align/phonetic"
)

// ErrSessionActive is returned by [SessionManager.Start] while a recording
// is running.
var ErrSessionActive = errors.New("session: a recording is already active")

// ErrNoSession is returned by [SessionManager.Stop] when nothing is running.
var ErrNoSession = errors.New("session: no active recording")

// SessionInfo holds metadata about the active recording.
type SessionInfo struct {
	// RecordingID identifies the recording in the recording log.
	RecordingID string

	// Lines is the number of script lines.
	Lines int

	// StartedAt is when the recording was started.
	StartedAt time.Time
}

// SessionManager manages the lifecycle of one teleprompter recording: the
// alignment runner and the recording log entries it produces.
// Only one recording can be active at a time (enforced by mutex).
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	active bool
	info   SessionInfo
	runner *teleprompter.Runner
	ended  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	// finish records the end of the recording exactly once.
	finish func(ctx context.Context, transcript string)

	// Dependencies injected at construction.
	store     recordlog.Store
	metrics   *observe.Metrics
	alignment config.AlignmentConfig
	onLine    func(line int)
	now       func() time.Time
	log       *slog.Logger
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Store     recordlog.Store
	Metrics   *observe.Metrics
	Alignment config.AlignmentConfig

	// OnLine, if set, receives line completion notifications in the
	// configured notify mode.
	OnLine func(line int)

	// Clock defaults to time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		alignment: cfg.Alignment,
		onLine:    cfg.OnLine,
		now:       cfg.Clock,
		log:       cfg.Logger,
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.now == nil {
		sm.now = time.Now
	}
	if sm.log == nil {
		sm.log = slog.Default()
	}
	return sm
}

// Start begins a recording of lines: it creates the recording log entry,
// builds the alignment engine and starts its runner.
//
// Returns [ErrSessionActive] if a recording is already running.
func (sm *SessionManager) Start(ctx context.Context, lines []string) (*teleprompter.Runner, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return nil, fmt.Errorf("%w (id=%s)", ErrSessionActive, sm.info.RecordingID)
	}

	id := recordlog.NewID()
	now := sm.now().UTC()
	if err := sm.store.Start(ctx, recordlog.Recording{ID: id, ScriptLines: lines, StartedAt: now}); err != nil {
		return nil, fmt.Errorf("session: start recording: %w", err)
	}
	log := sm.log.With("recording_id", id)

	// Background work outlives the Start call.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ended := make(chan struct{})
	var once sync.Once
	finish := func(ctx context.Context, transcript string) {
		once.Do(func() {
			if err := sm.store.Finish(ctx, id, transcript, sm.now().UTC()); err != nil {
				log.Warn("session: finish recording", "err", err)
			}
			close(ended)
		})
	}

	var eng *teleprompter.Engine
	opts := []teleprompter.Option{
		teleprompter.WithThresholds(sm.alignment.Thresholds()),
		teleprompter.OnAdvance(func(a teleprompter.Advance) {
			sm.recordAdvance(runCtx, log, id, a)
		}),
		teleprompter.OnRecordingEnd(func() {
			log.Info("session: recording complete")
			finish(runCtx, eng.Transcript())
		}),
	}
	if sm.alignment.Phonetic {
		opts = append(opts, teleprompter.WithEqualer(align.NewEqualer(align.WithPhonetic(phonetic.New()))))
	}
	if sm.onLine != nil {
		opts = append(opts, teleprompter.OnLineCompletion(sm.onLine))
	}
	eng = teleprompter.New(opts...)

	runner := teleprompter.NewRunner(eng,
		teleprompter.WithClock(sm.now),
		teleprompter.WithLogger(log),
		teleprompter.WithPassHook(func() { sm.metrics.AlignPasses.Add(runCtx, 1) }),
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = runner.Run(runCtx)
	}()
	if err := runner.Reset(ctx, lines); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("session: load script: %w", err)
	}

	sm.active = true
	sm.runner = runner
	sm.ended = ended
	sm.cancel = cancel
	sm.done = done
	sm.finish = finish
	sm.info = SessionInfo{RecordingID: id, Lines: len(lines), StartedAt: now}

	log.Info("session started", "lines", len(lines))
	return runner, nil
}

// recordAdvance logs one completion per line the advance covers. The
// consumed text is attached to the first of them.
func (sm *SessionManager) recordAdvance(ctx context.Context, log *slog.Logger, id string, a teleprompter.Advance) {
	sm.metrics.RecordAdvance(ctx, string(a.Reason))
	for line := a.From; line < a.To; line++ {
		lc := recordlog.LineCompletion{Line: line, Reason: string(a.Reason), At: a.At.UTC()}
		if line == a.From {
			lc.Text = a.Text
		}
		if err := sm.store.CompleteLine(ctx, id, lc); err != nil {
			log.Warn("session: record line completion", "line", line, "err", err)
		}
	}
	log.Debug("session: line advanced", "from", a.From, "to", a.To, "reason", a.Reason)
}

// Ended returns a channel closed when the active recording reached its last
// line or was stopped. It returns nil when no recording is active.
func (sm *SessionManager) Ended() <-chan struct{} {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.ended
}

// Stop ends the active recording. A recording that did not reach its last
// line is finished with the transcript committed so far.
//
// Returns [ErrNoSession] if no recording is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.active {
		return ErrNoSession
	}
	id := sm.info.RecordingID

	select {
	case <-sm.ended:
	default:
		snap, err := sm.runner.Snapshot(ctx)
		if err != nil {
			sm.log.Warn("session: snapshot before stop", "recording_id", id, "err", err)
		}
		sm.finish(ctx, snap.Transcript)
	}

	sm.cancel()
	<-sm.done

	sm.active = false
	sm.runner = nil
	sm.ended = nil
	sm.cancel = nil
	sm.done = nil
	sm.finish = nil
	sm.info = SessionInfo{}

	sm.log.Info("session stopped", "recording_id", id)
	return nil
}

// IsActive reports whether a recording is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active recording.
// Returns zero value if no recording is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}
