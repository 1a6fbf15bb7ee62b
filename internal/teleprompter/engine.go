// Package teleprompter decides, word by word, which script line is being
// spoken and when the prompter should advance.
//
// [Engine] is a synchronous state machine: every method takes the current
// time explicitly and nothing happens between calls, which keeps it
// deterministic under test. [Runner] wraps an Engine in a single goroutine
// that owns the debounce, frame and hold timers and serialises all access.
package teleprompter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/scriptcue/pkg/align"
)

// ErrLineOutOfRange is returned by [Engine.Seek] for an index outside the
// loaded script.
var ErrLineOutOfRange = errors.New("teleprompter: line out of range")

// State is the engine's lifecycle state.
type State int

const (
	// StateWaiting means no script has been loaded.
	StateWaiting State = iota

	// StateMatching means a line is being matched against speech.
	StateMatching

	// StateComplete is terminal: every line has been completed.
	StateComplete
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateMatching:
		return "matching"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// AdvanceReason names the rule that moved the engine to another line.
type AdvanceReason string

const (
	ReasonPrimary     AdvanceReason = "primary"
	ReasonFastForward AdvanceReason = "fast_forward"
	ReasonFallback    AdvanceReason = "fallback"
	ReasonManual      AdvanceReason = "manual"
	ReasonEmptyLine   AdvanceReason = "empty_line"
)

// Advance describes one committed line change.
type Advance struct {
	// From is the line that was current before the advance.
	From int

	// To is the new current line. It equals the script length when the
	// recording is complete.
	To int

	Reason AdvanceReason

	// Text is the spoken text consumed by the advance.
	Text string

	At time.Time
}

// Progress is the per-line matching state.
type Progress struct {
	// Line is the current line index.
	Line int

	// ContiguousPrefix is the number of leading script tokens matched in
	// order.
	ContiguousPrefix int

	// Total is the number of tokens in the current line.
	Total int

	// Progress is ContiguousPrefix / Total, or 1 while a completion is held.
	Progress float64

	// Holding reports that the line has completed and the advance is waiting
	// out the completion hold.
	Holding bool
}

// Snapshot is a read-only view of the engine.
type Snapshot struct {
	Progress
	State      State
	Lines      int
	Transcript string
	Interim    string
	Buffered   int
}

// Option configures an [Engine].
type Option func(*Engine)

// WithThresholds replaces [DefaultThresholds].
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) { e.th = t }
}

// WithEqualer sets the token comparator used for alignment.
func WithEqualer(eq *align.Equaler) Option {
	return func(e *Engine) { e.eq = eq }
}

// OnLineCompletion registers the line completion callback. With
// [NotifyDeferred] it fires for line N once a later line completes or the
// recording ends.
func OnLineCompletion(fn func(line int)) Option {
	return func(e *Engine) { e.onLine = fn }
}

// OnRecordingEnd registers the callback fired exactly once when the last
// line has been completed.
func OnRecordingEnd(fn func()) Option {
	return func(e *Engine) { e.onEnd = fn }
}

// OnProgress registers a callback invoked after every matching pass.
func OnProgress(fn func(Progress)) Option {
	return func(e *Engine) { e.onProgress = fn }
}

// OnAdvance registers a callback invoked for every committed line change.
func OnAdvance(fn func(Advance)) Option {
	return func(e *Engine) { e.onAdvance = fn }
}

// pendingCompletion is a completion decision waiting out the hold.
type pendingCompletion struct {
	reason    AdvanceReason
	step      int
	spokenEnd int
	deadline  time.Time
}

// Engine is the line-advancement state machine. It is not safe for
// concurrent use; see [Runner].
//
// Callbacks run synchronously inside the method that triggered them and must
// not call back into the engine.
type Engine struct {
	th Thresholds
	eq *align.Equaler

	lines  []string
	tokens [][]align.Token
	state  State
	line   int

	buf        *SpokenBuffer
	interim    []align.Token
	transcript []string

	lineStart   time.Time
	lastMatchAt time.Time
	lastMatched int
	bestMatched int
	prefix      int
	prefixEnd   int
	spokenEnd   int
	progress    float64
	pending     *pendingCompletion

	unreported int
	ended      bool

	onLine     func(int)
	onEnd      func()
	onProgress func(Progress)
	onAdvance  func(Advance)
}

// New returns an engine in [StateWaiting].
func New(opts ...Option) *Engine {
	e := &Engine{
		th:         DefaultThresholds(),
		unreported: -1,
	}
	for _, o := range opts {
		o(e)
	}
	if e.eq == nil {
		e.eq = align.NewEqualer()
	}
	if !e.th.Notify.IsValid() {
		e.th.Notify = NotifyDeferred
	}
	e.buf = NewSpokenBuffer(e.th.HardCap, e.th.SoftCap)
	return e
}

// Thresholds returns the engine's thresholds.
func (e *Engine) Thresholds() Thresholds { return e.th }

// Load replaces the script, clears every buffer and starts matching at line
// 0. Loading zero lines leaves the engine waiting. Leading empty lines are
// completed immediately.
func (e *Engine) Load(lines []string, now time.Time) {
	e.lines = append([]string(nil), lines...)
	e.tokens = make([][]align.Token, len(lines))
	for i, l := range lines {
		e.tokens[i] = align.Tokenize(l)
	}
	e.line = 0
	e.buf.Clear()
	e.interim = nil
	e.transcript = nil
	e.pending = nil
	e.unreported = -1
	e.ended = false
	e.resetLine(now)
	if len(lines) == 0 {
		e.state = StateWaiting
		return
	}
	e.state = StateMatching
	e.skipEmpty(now)
}

// Reset is [Engine.Load] under the name callers use when starting a new
// recording.
func (e *Engine) Reset(lines []string, now time.Time) { e.Load(lines, now) }

// State returns the lifecycle state.
func (e *Engine) State() State { return e.state }

// Line returns the current line index.
func (e *Engine) Line() int { return e.line }

// Transcript returns the accumulated final transcript: the spoken text
// consumed by line advances, space-joined.
func (e *Engine) Transcript() string { return strings.Join(e.transcript, " ") }

// HoldDeadline returns the time a held completion commits, if any.
func (e *Engine) HoldDeadline() (time.Time, bool) {
	if e.pending == nil {
		return time.Time{}, false
	}
	return e.pending.deadline, true
}

// PushFinal appends a finalised transcript fragment to the spoken buffer and
// drops the interim tokens it supersedes.
func (e *Engine) PushFinal(text string, now time.Time) {
	if e.state != StateMatching {
		return
	}
	e.interim = nil
	toks := align.Tokenize(text)
	if len(toks) == 0 {
		return
	}
	dropped := e.buf.Append(toks, now, e.prefix > 0)
	e.prefixEnd = max(0, e.prefixEnd-dropped)
	if e.pending != nil {
		e.pending.spokenEnd = max(0, e.pending.spokenEnd-dropped)
	}
}

// PushInterim replaces the interim tokens wholesale.
func (e *Engine) PushInterim(text string, _ time.Time) {
	if e.state != StateMatching {
		return
	}
	e.interim = align.Tokenize(text)
}

// Pass runs one matching pass. A held completion commits once its deadline
// has passed, after which the new line is evaluated in the same pass.
func (e *Engine) Pass(now time.Time) {
	for e.state == StateMatching {
		if e.pending != nil {
			if now.Before(e.pending.deadline) {
				return
			}
			e.commit(now)
			continue
		}
		e.evaluate(now)
		if e.pending == nil || e.th.CompletionHold > 0 {
			return
		}
	}
}

// Advance completes the current line on request, reported like any other
// completion. A held completion commits early with its original reason.
func (e *Engine) Advance(now time.Time) {
	if e.state != StateMatching {
		return
	}
	if e.pending == nil {
		e.pending = &pendingCompletion{reason: ReasonManual, step: 1, spokenEnd: e.spokenEnd}
	}
	e.commit(now)
}

// Seek jumps to line without reporting any completions. Buffers and the
// pending notification are discarded.
func (e *Engine) Seek(line int, now time.Time) error {
	if e.state == StateWaiting || line < 0 || line >= len(e.lines) {
		return fmt.Errorf("%w: %d", ErrLineOutOfRange, line)
	}
	e.line = line
	e.state = StateMatching
	e.ended = false
	e.buf.Clear()
	e.interim = nil
	e.pending = nil
	e.unreported = -1
	e.resetLine(now)
	e.skipEmpty(now)
	return nil
}

// Progress returns the current per-line progress.
func (e *Engine) Progress() Progress {
	p := Progress{
		Line:             e.line,
		ContiguousPrefix: e.prefix,
		Progress:         e.progress,
		Holding:          e.pending != nil,
	}
	if e.line < len(e.tokens) {
		p.Total = len(e.tokens[e.line])
	}
	return p
}

// Snapshot returns a copy of the engine's observable state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Progress:   e.Progress(),
		State:      e.state,
		Lines:      len(e.lines),
		Transcript: e.Transcript(),
		Interim:    align.Join(e.interim),
		Buffered:   e.buf.Len(),
	}
}

// Buffer exposes the spoken buffer for inspection.
func (e *Engine) Buffer() *SpokenBuffer { return e.buf }

func (e *Engine) evaluate(now time.Time) {
	script := e.tokens[e.line]
	protected := e.prefix > 0
	e.buf.Evict(now, e.th.staleWindow(protected), min(e.prefixEnd, e.buf.Len()))

	window := append(e.buf.Tokens(), e.interim...)
	res := e.eq.Align(script, window)

	if res.Matched > e.lastMatched {
		e.lastMatchAt = now
	}
	e.lastMatched = res.Matched
	e.bestMatched = max(e.bestMatched, res.Matched)

	e.prefix = res.ContiguousPrefix()
	e.progress = float64(e.prefix) / float64(len(script))
	e.spokenEnd = res.SpokenEnd
	e.prefixEnd = 0
	if e.prefix > 0 {
		e.prefixEnd = min(res.PrefixSpokenEnd(), e.buf.Len())
		e.buf.Refresh(e.prefixEnd, now)
	}

	switch {
	case e.prefix == len(script):
		e.hold(ReasonPrimary, 1, res.SpokenEnd, now)
	case e.fastForward(window, now):
	case e.fallback(res, len(script), now):
		e.hold(ReasonFallback, 1, res.SpokenEnd, now)
	}
	e.emitProgress()
}

// fastForward aligns the next line against the window and holds a two-line
// advance when it matches strongly enough after the minimum dwell.
func (e *Engine) fastForward(window []align.Token, now time.Time) bool {
	if now.Sub(e.lineStart) < e.th.MinDwell || e.line+1 >= len(e.tokens) {
		return false
	}
	next := e.tokens[e.line+1]
	if len(next) == 0 {
		return false
	}
	res := e.eq.Align(next, window)
	ratio := float64(res.ContiguousPrefix()) / float64(len(next))
	if ratio < e.th.FastForwardRatio || res.Matched < e.th.FastForwardMinMatches {
		return false
	}
	e.hold(ReasonFastForward, 2, res.SpokenEnd, now)
	return true
}

func (e *Engine) fallback(res align.Result, total int, now time.Time) bool {
	if now.Sub(e.lineStart) < e.th.MinDwell {
		return false
	}
	sinceMatch := now.Sub(e.lastMatchAt)
	ratio := float64(res.Matched) / float64(total)
	if ratio >= e.th.FallbackRatio && res.Matched >= e.th.FallbackMinMatches && sinceMatch > e.th.FallbackStall {
		return true
	}
	// A protected prefix keeps res.Matched above zero, so only the time since
	// the last new match counts here.
	return e.bestMatched >= e.th.FallbackSilenceMinMatches && sinceMatch > e.th.FallbackSilence
}

func (e *Engine) hold(reason AdvanceReason, step, spokenEnd int, now time.Time) {
	e.pending = &pendingCompletion{
		reason:    reason,
		step:      step,
		spokenEnd: spokenEnd,
		deadline:  now.Add(e.th.CompletionHold),
	}
	e.progress = 1
}

// commit applies the pending completion: interim tokens join the buffer, the
// matched span is consumed into the transcript and the line advances.
func (e *Engine) commit(now time.Time) {
	p := e.pending
	e.pending = nil

	if len(e.interim) > 0 {
		e.buf.Append(e.interim, now, true)
		e.interim = nil
	}
	consumed := e.buf.Consume(p.spokenEnd)
	text := align.Join(consumed)
	if text != "" {
		e.transcript = append(e.transcript, text)
	}
	e.buf.Refresh(e.buf.Len(), now)

	from := e.line
	to := min(from+p.step, len(e.lines))
	e.line = to
	e.resetLine(now)
	if e.onAdvance != nil {
		e.onAdvance(Advance{From: from, To: to, Reason: p.reason, Text: text, At: now})
	}
	for l := from; l < to; l++ {
		e.notify(l)
	}
	e.skipEmpty(now)
}

// skipEmpty completes empty lines on entry and finishes the recording when
// the script is exhausted.
func (e *Engine) skipEmpty(now time.Time) {
	for e.line < len(e.tokens) && len(e.tokens[e.line]) == 0 {
		from := e.line
		e.line++
		e.resetLine(now)
		if e.onAdvance != nil {
			e.onAdvance(Advance{From: from, To: e.line, Reason: ReasonEmptyLine, At: now})
		}
		e.notify(from)
	}
	if e.line >= len(e.lines) {
		e.finish()
	}
}

func (e *Engine) notify(line int) {
	if e.th.Notify == NotifyImmediate {
		e.fireLine(line)
		return
	}
	if e.unreported >= 0 {
		e.fireLine(e.unreported)
	}
	e.unreported = line
}

func (e *Engine) fireLine(line int) {
	if e.onLine != nil {
		e.onLine(line)
	}
}

// finish enters the terminal state, flushing any deferred notification
// before the recording-end callback.
func (e *Engine) finish() {
	e.state = StateComplete
	e.pending = nil
	e.interim = nil
	if e.unreported >= 0 {
		e.fireLine(e.unreported)
		e.unreported = -1
	}
	if e.ended {
		return
	}
	e.ended = true
	if e.onEnd != nil {
		e.onEnd()
	}
}

func (e *Engine) resetLine(now time.Time) {
	e.lineStart = now
	e.lastMatchAt = now
	e.lastMatched = 0
	e.bestMatched = 0
	e.prefix = 0
	e.prefixEnd = 0
	e.spokenEnd = 0
	e.progress = 0
}

func (e *Engine) emitProgress() {
	if e.onProgress != nil {
		e.onProgress(e.Progress())
	}
}
