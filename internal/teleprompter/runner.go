package teleprompter

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrRunnerStopped is returned when a request reaches a [Runner] whose loop
// has exited.
var ErrRunnerStopped = errors.New("teleprompter: runner stopped")

type timerKind int

const (
	timerDebounce timerKind = iota
	timerFrame
	timerHold
	numTimers
)

// fire is a timer expiry posted back onto the loop. Fires whose generation no
// longer matches the timer's current generation were cancelled and are
// ignored.
type fire struct {
	kind timerKind
	gen  uint64
}

// RunnerOption configures a [Runner].
type RunnerOption func(*Runner)

// WithClock overrides the time source handed to the engine.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

// WithPassHook registers fn to be called after every matching pass.
func WithPassHook(fn func()) RunnerOption {
	return func(r *Runner) { r.onPass = fn }
}

// Runner owns an [Engine] and executes everything that touches it on one
// goroutine. Transcript events re-arm a debounce timer; when it expires a
// pass is queued onto the next frame tick, and at most one pass is queued at
// any time. A held completion schedules its own pass at the hold deadline,
// and an idle ticker keeps time-based fallbacks alive during silence.
//
// All exported methods are safe for concurrent use.
type Runner struct {
	eng    *Engine
	th     Thresholds
	now    func() time.Time
	log    *slog.Logger
	onPass func()

	mailbox chan func()
	fires   chan fire
	done    chan struct{}

	// Loop-owned.
	timers     [numTimers]*time.Timer
	gens       [numTimers]uint64
	passQueued bool
	epoch      time.Time
}

// NewRunner wraps eng. The engine must not be used directly afterwards.
func NewRunner(eng *Engine, opts ...RunnerOption) *Runner {
	r := &Runner{
		eng:     eng,
		th:      eng.Thresholds(),
		now:     time.Now,
		log:     slog.Default(),
		mailbox: make(chan func(), 64),
		fires:   make(chan fire, 8),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run processes events until ctx is cancelled. It always returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	defer r.stopTimers()

	r.epoch = r.now()
	var idle <-chan time.Time
	if r.th.IdleTick > 0 {
		t := time.NewTicker(r.th.IdleTick)
		defer t.Stop()
		idle = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-r.mailbox:
			fn()
		case f := <-r.fires:
			if f.gen != r.gens[f.kind] {
				continue
			}
			r.timers[f.kind] = nil
			r.handleFire(f.kind)
		case <-idle:
			if r.eng.State() == StateMatching {
				r.queuePass()
			}
		}
	}
}

func (r *Runner) handleFire(k timerKind) {
	switch k {
	case timerDebounce, timerHold:
		r.queuePass()
	case timerFrame:
		r.passQueued = false
		r.pass()
	}
}

func (r *Runner) pass() {
	r.eng.Pass(r.now())
	if r.onPass != nil {
		r.onPass()
	}
	if deadline, ok := r.eng.HoldDeadline(); ok {
		r.arm(timerHold, max(deadline.Sub(r.now()), 0))
	} else {
		r.disarm(timerHold)
	}
}

// queuePass schedules a pass on the next frame tick unless one is queued.
func (r *Runner) queuePass() {
	if r.passQueued {
		return
	}
	r.passQueued = true
	r.arm(timerFrame, r.untilNextFrame())
}

func (r *Runner) untilNextFrame() time.Duration {
	fi := r.th.FrameInterval
	if fi <= 0 {
		return 0
	}
	return fi - r.now().Sub(r.epoch)%fi
}

// arm (re)starts timer k. Any earlier expiry of k still in flight is
// invalidated by the generation bump.
func (r *Runner) arm(k timerKind, d time.Duration) {
	r.disarm(k)
	gen := r.gens[k]
	r.timers[k] = time.AfterFunc(d, func() {
		select {
		case r.fires <- fire{kind: k, gen: gen}:
		case <-r.done:
		}
	})
}

func (r *Runner) disarm(k timerKind) {
	if r.timers[k] != nil {
		r.timers[k].Stop()
		r.timers[k] = nil
	}
	r.gens[k]++
}

func (r *Runner) stopTimers() {
	for k := range numTimers {
		r.disarm(k)
	}
	r.passQueued = false
}

// debounce restarts the quiet period after a transcript event.
func (r *Runner) debounce() {
	r.arm(timerDebounce, r.th.Debounce)
}

// do runs fn on the loop and waits for it to finish.
func (r *Runner) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case r.mailbox <- func() { fn(); close(ran) }:
	case <-r.done:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-r.done:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushFinal queues a finalised transcript fragment.
func (r *Runner) PushFinal(ctx context.Context, text string) error {
	return r.do(ctx, func() {
		r.eng.PushFinal(text, r.now())
		r.debounce()
	})
}

// PushInterim queues an interim transcript fragment.
func (r *Runner) PushInterim(ctx context.Context, text string) error {
	return r.do(ctx, func() {
		r.eng.PushInterim(text, r.now())
		r.debounce()
	})
}

// Reset cancels every pending timer and loads a new script before any later
// request is processed.
func (r *Runner) Reset(ctx context.Context, lines []string) error {
	return r.do(ctx, func() {
		r.stopTimers()
		r.epoch = r.now()
		r.eng.Reset(lines, r.now())
		r.log.Debug("teleprompter reset", "lines", len(lines))
	})
}

// Advance completes the current line on request.
func (r *Runner) Advance(ctx context.Context) error {
	return r.do(ctx, func() {
		r.eng.Advance(r.now())
		r.pass()
	})
}

// Seek jumps to line, discarding buffered speech and pending timers.
func (r *Runner) Seek(ctx context.Context, line int) error {
	var err error
	if derr := r.do(ctx, func() {
		r.stopTimers()
		err = r.eng.Seek(line, r.now())
	}); derr != nil {
		return derr
	}
	return err
}

// Snapshot returns the engine's state as seen from the loop.
func (r *Runner) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := r.do(ctx, func() { s = r.eng.Snapshot() })
	return s, err
}
