package teleprompter_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/scriptcue/internal/teleprompter"
)

func fastThresholds() teleprompter.Thresholds {
	th := teleprompter.DefaultThresholds()
	th.Debounce = 20 * time.Millisecond
	th.FrameInterval = 2 * time.Millisecond
	th.CompletionHold = 30 * time.Millisecond
	th.IdleTick = 0
	return th
}

func startRunner(t *testing.T, e *teleprompter.Engine, opts ...teleprompter.RunnerOption) *teleprompter.Runner {
	t.Helper()
	r := teleprompter.NewRunner(e, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func TestRunner_AdvancesAfterDebounceAndHold(t *testing.T) {
	t.Parallel()

	advances := make(chan teleprompter.Advance, 4)
	e := teleprompter.New(
		teleprompter.WithThresholds(fastThresholds()),
		teleprompter.OnAdvance(func(a teleprompter.Advance) { advances <- a }),
	)
	r := startRunner(t, e)
	ctx := context.Background()

	if err := r.Reset(ctx, []string{"the quick brown fox", "jumps over the dog"}); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := r.PushFinal(ctx, "the quick brown fox"); err != nil {
		t.Fatalf("PushFinal: %v", err)
	}

	select {
	case a := <-advances:
		if a.From != 0 || a.To != 1 || a.Reason != teleprompter.ReasonPrimary {
			t.Errorf("advance = %+v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for advance")
	}

	s, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if s.Line != 1 || s.Transcript != "the quick brown fox" {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestRunner_CoalescesRapidEvents(t *testing.T) {
	t.Parallel()

	var passes atomic.Int32
	th := fastThresholds()
	th.Debounce = 80 * time.Millisecond
	e := teleprompter.New(teleprompter.WithThresholds(th))
	r := startRunner(t, e, teleprompter.WithPassHook(func() { passes.Add(1) }))
	ctx := context.Background()

	if err := r.Reset(ctx, []string{"a fairly long line of script text"}); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	for _, s := range []string{"a", "a fair", "a fairly", "a fairly long", "a fairly long line"} {
		if err := r.PushInterim(ctx, s); err != nil {
			t.Fatalf("PushInterim: %v", err)
		}
	}
	if got := passes.Load(); got != 0 {
		t.Fatalf("passes before debounce expired = %d, want 0", got)
	}

	time.Sleep(300 * time.Millisecond)
	if got := passes.Load(); got < 1 || got > 2 {
		t.Errorf("passes = %d, want the burst coalesced into one", got)
	}
	s, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if s.ContiguousPrefix != 4 {
		t.Errorf("prefix = %d, want 4", s.ContiguousPrefix)
	}
}

func TestRunner_ResetCancelsPendingWork(t *testing.T) {
	t.Parallel()

	advances := make(chan teleprompter.Advance, 4)
	th := fastThresholds()
	th.CompletionHold = 100 * time.Millisecond
	e := teleprompter.New(
		teleprompter.WithThresholds(th),
		teleprompter.OnAdvance(func(a teleprompter.Advance) { advances <- a }),
	)
	r := startRunner(t, e)
	ctx := context.Background()

	if err := r.Reset(ctx, []string{"hold this line"}); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := r.PushFinal(ctx, "hold this line"); err != nil {
		t.Fatalf("PushFinal: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		s, err := r.Snapshot(ctx)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if s.Holding {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("line never reached the completion hold")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := r.Reset(ctx, []string{"a brand new script"}); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	select {
	case a := <-advances:
		t.Fatalf("advance after reset: %+v", a)
	case <-time.After(250 * time.Millisecond):
	}
	s, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if s.Line != 0 || s.Buffered != 0 || s.Holding {
		t.Errorf("snapshot after reset = %+v", s)
	}
}

func TestRunner_Stopped(t *testing.T) {
	t.Parallel()

	r := teleprompter.NewRunner(teleprompter.New())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}

	if err := r.PushFinal(context.Background(), "late"); !errors.Is(err, teleprompter.ErrRunnerStopped) {
		t.Errorf("PushFinal after stop = %v, want ErrRunnerStopped", err)
	}
}
