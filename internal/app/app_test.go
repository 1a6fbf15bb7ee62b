package app_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/scriptcue/internal/app"
	"github.com/MrWong99/scriptcue/internal/config"
	"github.com/MrWong99/scriptcue/internal/observe"
	"github.com/MrWong99/scriptcue/internal/recordlog"
	"github.com/MrWong99/scriptcue/internal/relay"
	"github.com/MrWong99/scriptcue/pkg/provider/stt/mock"
)

// testConfig returns a defaulted config with an API key set.
func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.ASR.APIKey = "test-key"
	cfg.Relay.FlushGrace = 20 * time.Millisecond
	return cfg
}

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...app.Option) (*app.App, *httptest.Server) {
	t.Helper()
	m, _ := testMetrics(t)
	opts = append([]app.Option{app.WithMetrics(m), app.WithStore(recordlog.NewMemory())}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return a, srv
}

func getStatus(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func readType(t *testing.T, ctx context.Context, c *websocket.Conn) string {
	t.Helper()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return ev.Type
}

func TestNew_ServesEndpoints(t *testing.T) {
	t.Parallel()

	_, srv := newTestApp(t, testConfig(), app.WithDialer(&mock.Dialer{}))

	tests := []struct {
		path string
		want int
	}{
		{path: "/healthz", want: http.StatusOK},
		{path: "/readyz", want: http.StatusOK},
		{path: "/metrics", want: http.StatusOK},
		{path: "/v1/recordings/missing", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		if got, _ := getStatus(t, srv.URL+tt.path); got != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, got, tt.want)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/listen?sampleRate=16000", nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	defer c.CloseNow()
	if typ := readType(t, ctx, c); typ != relay.EventReady {
		t.Errorf("first event = %q, want %q", typ, relay.EventReady)
	}
}

func TestNew_NotReadyWithoutDialer(t *testing.T) {
	t.Parallel()

	_, srv := newTestApp(t, testConfig())
	status, body := getStatus(t, srv.URL+"/readyz")
	if status != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503", status)
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["recordlog"] != "ok" {
		t.Errorf("recordlog check = %v, want ok", checks["recordlog"])
	}
	if checks["asr"] == "ok" {
		t.Error("asr check passed without a dialer")
	}
}

func TestNew_OpensStoreFromDSN(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RecordLog.DSN = "sqlite:" + filepath.Join(t.TempDir(), "recordings.db")
	m, _ := testMetrics(t)
	a, err := app.New(context.Background(), cfg, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if _, ok := a.Store().(*recordlog.SQLite); !ok {
		t.Errorf("store = %T, want *recordlog.SQLite", a.Store())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Store().Ping(ctx); err == nil {
		t.Error("store still usable after Shutdown")
	}
}

func TestApp_ShutdownDrainsSessions(t *testing.T) {
	t.Parallel()

	up := mock.NewUpstream()
	a, srv := newTestApp(t, testConfig(), app.WithDialer(&mock.Dialer{Upstream: up}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/listen?sampleRate=16000", nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	defer c.CloseNow()
	if typ := readType(t, ctx, c); typ != relay.EventReady {
		t.Fatalf("first event = %q", typ)
	}

	done := make(chan error, 1)
	go func() { done <- a.Shutdown(ctx) }()

	if typ := readType(t, ctx, c); typ != relay.EventClosed {
		t.Errorf("event = %q, want %q", typ, relay.EventClosed)
	}
	_, _, err = c.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
		t.Errorf("close status = %v, want 1001", got)
	}
	if err := <-done; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if status, body := getStatus(t, srv.URL+"/readyz"); status != http.StatusServiceUnavailable || body["status"] != "draining" {
		t.Errorf("readyz after shutdown = %d %v", status, body)
	}
	// Idempotent.
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	lv := new(slog.LevelVar)
	a, _ := newTestApp(t, cfg, app.WithLevel(lv))

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.Relay.KeepAliveInterval = 2 * time.Second
	next.Relay.Path = "/v2/listen"
	next.Metrics.LongPause = 2 * time.Second

	d := a.ApplyConfig(&next)
	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	if got := a.Relay().Settings().KeepAliveInterval; got != 2*time.Second {
		t.Errorf("keepalive = %v, want 2s", got)
	}
	if !slices.Contains(d.RestartRequired, "relay.path") {
		t.Errorf("RestartRequired = %v, want relay.path", d.RestartRequired)
	}

	// The path change is still pending on the next reload.
	d = a.ApplyConfig(&next)
	if d.LogLevelChanged || d.RelayChanged {
		t.Errorf("second apply reported hot changes: %+v", d)
	}
	if !slices.Contains(d.RestartRequired, "relay.path") {
		t.Errorf("second apply RestartRequired = %v", d.RestartRequired)
	}
}

func TestRelaySettings(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Relay.ConnectTimeout = 3 * time.Second
	cfg.Relay.Endpointing = 500 * time.Millisecond
	cfg.Relay.AllowedOrigins = []string{"*.example.com"}
	cfg.ASR.Model = "base"
	cfg.Metrics.FillerWords = []string{"basically"}

	s := app.RelaySettings(cfg)
	if s.ConnectTimeout != 3*time.Second || s.FlushGrace != 20*time.Millisecond {
		t.Errorf("timings = %v / %v", s.ConnectTimeout, s.FlushGrace)
	}
	if s.Stream.Endpointing != 500*time.Millisecond || s.Stream.Model != "base" || !s.Stream.InterimResults {
		t.Errorf("stream = %+v", s.Stream)
	}
	if len(s.OriginPatterns) != 1 {
		t.Errorf("origins = %v", s.OriginPatterns)
	}
	if s.Metrics == nil {
		t.Fatal("metrics calculator not set")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
