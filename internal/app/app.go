// Package app wires the scriptcue subsystems into a running relay server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// drains relay sessions and tears everything down in order.
//
// For testing, inject doubles via functional options (WithDialer,
// WithStore, WithMetrics). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/scriptcue/internal/config"
	"github.com/MrWong99/scriptcue/internal/health"
	"github.com/MrWong99/scriptcue/internal/livemetrics"
	"github.com/MrWong99/scriptcue/internal/observe"
	"github.com/MrWong99/scriptcue/internal/recordlog"
	"github.com/MrWong99/scriptcue/internal/relay"
	"github.com/MrWong99/scriptcue/pkg/provider/stt"
)

// App owns all subsystem lifetimes of the relay server.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	dialer  stt.Dialer
	store   recordlog.Store
	metrics *observe.Metrics
	level   *slog.LevelVar

	relay   *relay.Handler
	health  *health.Handler
	handler http.Handler
	server  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDialer sets the upstream dialer. Without it, or with a nil dialer,
// relay sessions report missing_api_key.
func WithDialer(d stt.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithStore injects a recording log instead of opening one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithStore(s recordlog.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevel lets [App.ApplyConfig] change the log level at runtime.
func WithLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.store == nil {
		store, err := recordlog.Open(ctx, cfg.RecordLog.DSN)
		if err != nil {
			return nil, fmt.Errorf("app: open recording log: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	}

	a.relay = relay.NewHandler(a.dialer, RelaySettings(cfg), relay.WithMetrics(a.metrics))
	a.health = health.New([]health.Checker{
		health.ASRCredentials(a.apiKey),
		health.Ping("recordlog", a.store),
	}, health.WithSessionCount(a.relay.ActiveSessions))

	mux := http.NewServeMux()
	a.relay.Register(mux, cfg.Relay.Path)
	a.health.Register(mux)
	recordlog.NewHandler(a.store).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.handler = observe.Middleware(a.metrics)(mux)

	return a, nil
}

// RelaySettings derives the relay session settings from cfg.
func RelaySettings(cfg *config.Config) relay.Settings {
	s := relay.DefaultSettings()
	r := cfg.Relay
	if r.ConnectTimeout > 0 {
		s.ConnectTimeout = r.ConnectTimeout
	}
	if r.KeepAliveInterval > 0 {
		s.KeepAliveInterval = r.KeepAliveInterval
	}
	if r.FlushGrace > 0 {
		s.FlushGrace = r.FlushGrace
	}
	if r.Endpointing > 0 {
		s.Stream.Endpointing = r.Endpointing
	}
	if r.UtteranceEnd > 0 {
		s.Stream.UtteranceEnd = r.UtteranceEnd
	}
	s.Stream.Model = cfg.ASR.Model
	s.Stream.Language = cfg.ASR.Language
	s.OriginPatterns = r.AllowedOrigins

	var mopts []livemetrics.Option
	if len(cfg.Metrics.FillerWords) > 0 {
		mopts = append(mopts, livemetrics.WithFillers(cfg.Metrics.FillerWords))
	}
	if cfg.Metrics.LongPause > 0 {
		mopts = append(mopts, livemetrics.WithLongPause(cfg.Metrics.LongPause))
	}
	s.Metrics = livemetrics.New(mopts...)
	return s
}

func (a *App) apiKey() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dialer == nil {
		return ""
	}
	return a.cfg.ASR.APIKey
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Relay returns the relay handler.
func (a *App) Relay() *relay.Handler { return a.relay }

// Store returns the recording log.
func (a *App) Store() recordlog.Store { return a.store }

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.server = srv
	tls := a.cfg.Server.TLS
	a.mu.Unlock()

	errc := make(chan error, 1)
	go func() {
		if tls != nil {
			errc <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errc <- srv.ListenAndServe()
	}()
	slog.Info("app running", "listen_addr", srv.Addr, "relay_path", a.cfg.Relay.Path, "tls", tls != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ApplyConfig applies the hot-reloadable parts of next and returns what
// changed. Settings that need a restart are only reported.
func (a *App) ApplyConfig(next *config.Config) config.ConfigDiff {
	a.mu.Lock()
	old := a.cfg
	d := config.Diff(old, next)
	// Restart-only sections keep their running values.
	kept := *next
	kept.Server.ListenAddr = old.Server.ListenAddr
	kept.Server.TLS = old.Server.TLS
	kept.Relay.Path = old.Relay.Path
	kept.ASR = old.ASR
	kept.RecordLog = old.RecordLog
	a.cfg = &kept
	a.mu.Unlock()

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RelayChanged || d.MetricsChanged {
		a.relay.SetSettings(RelaySettings(&kept))
		slog.Info("relay settings reloaded; running sessions keep their settings")
	}
	if d.AlignmentChanged {
		slog.Info("alignment settings changed; applies to the next recording")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "fields", d.RestartRequired)
	}
	return d
}

// Shutdown marks the server as draining, lets relay sessions flush, stops
// the HTTP server and runs the closers. It respects the context deadline:
// if ctx expires before all closers finish, remaining closers are skipped
// and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.relay.ActiveSessions(), "closers", len(a.closers))
		a.health.SetDraining(true)

		// Hijacked relay sockets are not tracked by http.Server.
		if err := a.relay.Shutdown(ctx); err != nil {
			slog.Warn("relay sessions did not finish in time", "err", err)
			shutdownErr = err
		}

		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
				shutdownErr = errors.Join(shutdownErr, err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// SlogLevel converts a config log level to a slog level.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
