package app_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/scriptcue/internal/app"
	"github.com/MrWong99/scriptcue/internal/config"
	"github.com/MrWong99/scriptcue/internal/recordlog"
	"github.com/MrWong99/scriptcue/internal/teleprompter"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []int
}

func (r *lineRecorder) add(line int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) get() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.lines)
}

func newTestSessionManager(t *testing.T) (*app.SessionManager, *recordlog.Memory, *lineRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	store := recordlog.NewMemory()
	m, reader := testMetrics(t)
	rec := &lineRecorder{}
	sm := app.NewSessionManager(app.SessionManagerConfig{
		Store:     store,
		Metrics:   m,
		Alignment: config.AlignmentConfig{Notify: teleprompter.NotifyDeferred},
		OnLine:    rec.add,
	})
	return sm, store, rec, reader
}

func advanceCount(t *testing.T, reader *sdkmetric.ManualReader, reason string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "scriptcue.align.advances" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("reason")); ok && v.AsString() == reason {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func TestSessionManager_ManualAdvanceCompletesRecording(t *testing.T) {
	t.Parallel()

	sm, store, rec, reader := newTestSessionManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runner, err := sm.Start(ctx, []string{"first line", "", "third line"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !sm.IsActive() {
		t.Fatal("expected session to be active after Start")
	}
	info := sm.Info()
	if info.RecordingID == "" || info.Lines != 3 {
		t.Errorf("info = %+v", info)
	}

	for range 2 {
		if err := runner.Advance(ctx); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
	select {
	case <-sm.Ended():
	case <-ctx.Done():
		t.Fatal("recording never ended")
	}

	log, err := store.Get(ctx, info.RecordingID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !log.Finished() {
		t.Error("recording not finished")
	}
	var reasons []string
	for _, lc := range log.Lines {
		reasons = append(reasons, lc.Reason)
	}
	want := []string{"manual", "empty_line", "manual"}
	if !slices.Equal(reasons, want) {
		t.Errorf("reasons = %v, want %v", reasons, want)
	}
	if got := rec.get(); !slices.Equal(got, []int{0, 1, 2}) {
		t.Errorf("line notifications = %v, want [0 1 2]", got)
	}
	if n := advanceCount(t, reader, "manual"); n != 2 {
		t.Errorf("manual advances = %d, want 2", n)
	}
	if n := advanceCount(t, reader, "empty_line"); n != 1 {
		t.Errorf("empty_line advances = %d, want 1", n)
	}

	if err := sm.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if sm.IsActive() {
		t.Error("expected session to be inactive after Stop")
	}
}

func TestSessionManager_StopBeforeEnd(t *testing.T) {
	t.Parallel()

	sm, store, _, _ := newTestSessionManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runner, err := sm.Start(ctx, []string{"a line nobody reads"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	id := sm.Info().RecordingID
	if err := runner.PushFinal(ctx, "something else entirely"); err != nil {
		t.Fatalf("PushFinal: %v", err)
	}
	ended := sm.Ended()

	if err := sm.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	select {
	case <-ended:
	default:
		t.Error("Ended channel not closed by Stop")
	}
	if sm.Ended() != nil {
		t.Error("Ended() should be nil without an active recording")
	}

	log, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !log.Finished() || len(log.Lines) != 0 {
		t.Errorf("log = %+v, want finished without completions", log)
	}

	if err := runner.PushFinal(ctx, "late"); !errors.Is(err, teleprompter.ErrRunnerStopped) {
		t.Errorf("PushFinal after Stop = %v, want ErrRunnerStopped", err)
	}
	if err := sm.Stop(ctx); !errors.Is(err, app.ErrNoSession) {
		t.Errorf("second Stop = %v, want ErrNoSession", err)
	}
}

func TestSessionManager_SingleActiveRecording(t *testing.T) {
	t.Parallel()

	sm, _, _, _ := newTestSessionManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := sm.Start(ctx, []string{"one"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = sm.Stop(context.Background()) })
	if _, err := sm.Start(ctx, []string{"two"}); !errors.Is(err, app.ErrSessionActive) {
		t.Errorf("second Start = %v, want ErrSessionActive", err)
	}
}
