package prompter_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/scriptcue/internal/prompter"
	"github.com/MrWong99/scriptcue/internal/relay"
	"github.com/MrWong99/scriptcue/internal/teleprompter"
)

// fakeRelay accepts one connection, records what the client sends and
// replays script once the client connected.
type fakeRelay struct {
	script      []string
	closeStatus websocket.StatusCode

	mu         sync.Mutex
	sampleRate string
	frames     [][]byte
	texts      []string
	done       chan struct{}
}

func newFakeRelay(t *testing.T, status websocket.StatusCode, script ...string) (*fakeRelay, string) {
	t.Helper()
	f := &fakeRelay{script: script, closeStatus: status, done: make(chan struct{})}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/listen"
}

func (f *fakeRelay) serve(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()
	f.mu.Lock()
	f.sampleRate = r.URL.Query().Get("sampleRate")
	f.mu.Unlock()

	ctx := r.Context()
	if len(f.script) == 0 {
		// Record mode: collect until the client asks to stop.
		defer close(f.done)
		for {
			typ, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			f.mu.Lock()
			if typ == websocket.MessageBinary {
				f.frames = append(f.frames, msg)
			} else {
				f.texts = append(f.texts, string(msg))
			}
			f.mu.Unlock()
			if typ == websocket.MessageText && strings.Contains(string(msg), relay.ControlStop) {
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
	for _, msg := range f.script {
		if err := c.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			return
		}
	}
	c.Close(f.closeStatus, "")
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func startRunner(t *testing.T, ctx context.Context, lines ...string) *teleprompter.Runner {
	t.Helper()
	r := teleprompter.NewRunner(teleprompter.New())
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = r.Run(runCtx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	if err := r.Reset(ctx, lines); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	return r
}

func TestClient_RunFeedsRunner(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	f, url := newFakeRelay(t, websocket.StatusNormalClosure,
		`{"type":"deepgram_ready"}`,
		`{"type":"transcript","transcript":"quick","is_final":false,"fillerCount":0,"wpm":null,"longPauses":0,"accuracy":null}`,
		`{"type":"error","message":"audio dropped","code":"not_ready"}`,
		`not json`,
		`{"type":"metadata","request_id":"r1"}`,
		`{"type":"transcript","transcript":"quick brown","is_final":true,"fillerCount":1,"wpm":120,"longPauses":0,"accuracy":0.9}`,
		`{"type":"deepgram_closed","code":1000,"reason":"stream finished"}`,
	)

	c, err := prompter.Dial(ctx, url, 48000)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	runner := startRunner(t, ctx, "the quick brown fox", "jumps over")

	if err := c.Run(ctx, runner); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var snaps []string
	for s := range c.Snapshots() {
		snaps = append(snaps, s.Transcript)
	}
	if strings.Join(snaps, "|") != "quick|quick brown" {
		t.Errorf("snapshots = %v", snaps)
	}

	f.mu.Lock()
	rate := f.sampleRate
	f.mu.Unlock()
	if rate != "48000" {
		t.Errorf("sampleRate = %q, want 48000", rate)
	}

	snap, err := runner.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Interim != "" {
		t.Errorf("interim = %q, want it cleared by the final", snap.Interim)
	}
	if snap.Buffered == 0 && snap.ContiguousPrefix == 0 && snap.Line == 0 {
		t.Errorf("runner saw no speech: %+v", snap)
	}
}

func TestClient_RunTerminalEvents(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		script []string
		status websocket.StatusCode
		check  func(t *testing.T, err error)
	}{
		{
			name:   "relay error",
			script: []string{`{"type":"error","message":"bad audio","code":"upstream_error"}`},
			status: websocket.StatusInternalError,
			check: func(t *testing.T, err error) {
				var re *prompter.RelayError
				if !errors.As(err, &re) || re.Code != relay.CodeUpstreamError || re.Message != "bad audio" {
					t.Errorf("error = %v, want RelayError upstream_error", err)
				}
			},
		},
		{
			name:   "upstream dropped",
			script: []string{`{"type":"deepgram_ready"}`, `{"type":"deepgram_closed","code":1006,"reason":"upstream closed"}`},
			status: websocket.StatusInternalError,
			check: func(t *testing.T, err error) {
				var ce *prompter.ClosedError
				if !errors.As(err, &ce) || ce.Code != 1006 {
					t.Errorf("error = %v, want ClosedError 1006", err)
				}
			},
		},
		{
			name:   "going away",
			script: []string{`{"type":"deepgram_ready"}`},
			status: websocket.StatusGoingAway,
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Errorf("error = %v, want nil", err)
				}
			},
		},
		{
			name:   "internal error close",
			script: []string{`{"type":"deepgram_ready"}`},
			status: websocket.StatusInternalError,
			check: func(t *testing.T, err error) {
				if websocket.CloseStatus(err) != websocket.StatusInternalError {
					t.Errorf("error = %v, want close status 1011", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := testContext(t)
			_, url := newFakeRelay(t, tt.status, tt.script...)
			c, err := prompter.Dial(ctx, url, 16000)
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			defer c.Close()
			tt.check(t, c.Run(ctx, nil))
		})
	}
}

func TestClient_Stream(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	f, url := newFakeRelay(t, websocket.StatusNormalClosure)
	c, err := prompter.Dial(ctx, url, 16000)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	audio := bytes.Repeat([]byte{1}, 1000)
	if err := c.Stream(ctx, bytes.NewReader(audio), 320, time.Millisecond); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	go func() { _ = c.Run(ctx, nil) }()

	select {
	case <-f.done:
	case <-ctx.Done():
		t.Fatal("relay never saw stop")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.frames))
	for i, fr := range f.frames {
		sizes[i] = len(fr)
	}
	if len(sizes) != 4 || sizes[0] != 320 || sizes[3] != 40 {
		t.Errorf("frame sizes = %v, want [320 320 320 40]", sizes)
	}
	if len(f.texts) != 1 || f.texts[0] != `{"type":"stop"}` {
		t.Errorf("control messages = %v", f.texts)
	}
}

func TestClient_StreamRejectsFrameSize(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	_, url := newFakeRelay(t, websocket.StatusNormalClosure)
	c, err := prompter.Dial(ctx, url, 16000)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if err := c.Stream(ctx, bytes.NewReader(nil), 0, 0); err == nil {
		t.Fatal("expected an error for a zero frame size")
	}
}

func TestDecodeClientEvent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "ready", raw: `{"type":"deepgram_ready"}`, want: relay.EventReady},
		{name: "transcript", raw: `{"type":"transcript","transcript":"hi","is_final":true,"wpm":90}`, want: relay.EventTranscript},
		{name: "error", raw: `{"type":"error","message":"m","code":"bad_request"}`, want: relay.EventError},
		{name: "closed", raw: `{"type":"deepgram_closed","code":1000,"reason":"done"}`, want: relay.EventClosed},
		{name: "passthrough", raw: `{"type":"utterance_end","last_word_end":2.5}`, want: relay.EventUtteranceEnd},
		{name: "invalid json", raw: `{`, wantErr: true},
		{name: "missing type", raw: `{"code":1}`, wantErr: true},
		{name: "bad transcript", raw: `{"type":"transcript","wpm":"fast"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, err := prompter.DecodeClientEvent([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %+v", ev)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeClientEvent: %v", err)
			}
			if ev.Type != tt.want {
				t.Errorf("type = %q, want %q", ev.Type, tt.want)
			}
			switch ev.Type {
			case relay.EventTranscript:
				if ev.Transcript == nil || ev.Transcript.WPM == nil || *ev.Transcript.WPM != 90 || ev.Transcript.Accuracy != nil {
					t.Errorf("transcript = %+v", ev.Transcript)
				}
			case relay.EventClosed:
				if ev.Closed == nil || ev.Closed.Code != 1000 || ev.Closed.Reason != "done" {
					t.Errorf("closed = %+v", ev.Closed)
				}
			case relay.EventUtteranceEnd:
				if string(ev.Fields["last_word_end"]) != "2.5" {
					t.Errorf("fields = %v", ev.Fields)
				}
			}
		})
	}
}
