// Package relay proxies client audio to a streaming speech recognition
// provider and streams transcripts with live delivery metrics back.
//
// Each accepted WebSocket connection gets its own [Session] with a single
// event loop. Sessions share nothing but the read-only [Settings] snapshot
// they started with.
package relay

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/scriptcue/internal/livemetrics"
	"github.com/MrWong99/scriptcue/internal/observe"
	"github.com/MrWong99/scriptcue/pkg/provider/stt"
)

// Settings tunes new sessions. Running sessions keep the settings they
// started with.
type Settings struct {
	ConnectTimeout    time.Duration
	KeepAliveInterval time.Duration
	FlushGrace        time.Duration

	// Stream holds the recognition options; SampleRate is taken from the
	// client request.
	Stream stt.StreamConfig

	// OriginPatterns are passed to websocket.AcceptOptions.
	OriginPatterns []string

	// Metrics computes live metrics for every transcript.
	Metrics *livemetrics.Calculator
}

// DefaultSettings returns the relay defaults.
func DefaultSettings() Settings {
	return Settings{
		ConnectTimeout:    10 * time.Second,
		KeepAliveInterval: 5 * time.Second,
		FlushGrace:        time.Second,
		Stream: stt.StreamConfig{
			Channels:       1,
			Encoding:       "linear16",
			InterimResults: true,
			Punctuate:      true,
			SmartFormat:    true,
			Endpointing:    300 * time.Millisecond,
			UtteranceEnd:   time.Second,
			VADEvents:      true,
		},
		Metrics: livemetrics.New(),
	}
}

// Option configures a [Handler].
type Option func(*Handler)

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// Handler upgrades requests to WebSocket relay sessions.
type Handler struct {
	dialer   stt.Dialer
	settings atomic.Pointer[Settings]
	metrics  *observe.Metrics

	active atomic.Int64

	// mu orders session registration against Shutdown so sessions.Add never
	// races sessions.Wait.
	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup

	// shutdown is closed by Shutdown; sessions flush and close on it.
	shutdown chan struct{}
}

// NewHandler returns a handler dialing upstream sessions with dialer. A nil
// dialer means no credentials are configured: every session reports
// missing_api_key and closes.
func NewHandler(dialer stt.Dialer, s Settings, opts ...Option) *Handler {
	h := &Handler{
		dialer:   dialer,
		shutdown: make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	h.SetSettings(s)
	return h
}

// SetSettings replaces the settings used by sessions started from now on.
func (h *Handler) SetSettings(s Settings) {
	if s.Metrics == nil {
		s.Metrics = livemetrics.New()
	}
	h.settings.Store(&s)
}

// Settings returns the current settings.
func (h *Handler) Settings() Settings {
	return *h.settings.Load()
}

// ActiveSessions returns the number of open sessions.
func (h *Handler) ActiveSessions() int64 {
	return h.active.Load()
}

// Shutdown asks every open session to finish: flush the upstream, then close
// the client with 1001. It waits until all sessions returned or ctx is done.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if !h.closing {
		h.closing = true
		close(h.shutdown)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register mounts the handler on path and /ws.
func (h *Handler) Register(mux *http.ServeMux, path string) {
	mux.Handle("GET "+path, h)
	if path != "/ws" {
		mux.Handle("GET /ws", h)
	}
}

// ServeHTTP accepts the WebSocket and runs the session until it ends.
// Configuration errors are reported over the socket, not as HTTP errors, so
// browser clients always see a structured error event.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.register() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.sessions.Done()

	settings := h.Settings()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: settings.OriginPatterns,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("relay: websocket accept failed", "err", err)
		return
	}

	h.active.Add(1)
	defer h.active.Add(-1)

	id := uuid.NewString()
	ctx, span, log := observe.StartSession(r.Context(), id)
	defer span.End()
	h.metrics.ActiveSessions.Add(ctx, 1)
	defer h.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	s := &Session{
		id:       id,
		client:   conn,
		dialer:   h.dialer,
		settings: settings,
		metrics:  h.metrics,
		shutdown: h.shutdown,
		log:      log,
	}

	rate, perr := strconv.Atoi(r.URL.Query().Get("sampleRate"))
	if perr != nil || rate <= 0 {
		s.rejectRequest(ctx, "sampleRate query parameter is required and must be a positive integer")
		return
	}
	s.settings.Stream.SampleRate = rate
	s.Run(ctx)
}

// register counts a new session unless Shutdown has begun.
func (h *Handler) register() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions.Add(1)
	return true
}
