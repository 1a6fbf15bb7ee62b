// Package config provides the configuration schema, loader, watcher and ASR
// provider registry for the scriptcue relay and prompter.
package config

import (
	"time"

	"github.com/MrWong99/scriptcue/internal/teleprompter"
)

// LogLevel controls log verbosity for the scriptcue server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for scriptcue.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	ASR       ASRConfig       `yaml:"asr"`
	Relay     RelayConfig     `yaml:"relay"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Alignment AlignmentConfig `yaml:"alignment"`
	RecordLog RecordLogConfig `yaml:"recordlog"`
}

// ServerConfig holds network and logging settings for the relay server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown of open sessions.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ASRConfig selects and configures the upstream speech recognition
// provider. The Provider field is used to look up the dialer in the
// [Registry].
type ASRConfig struct {
	// Provider selects the registered implementation (e.g., "deepgram").
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider. The DEEPGRAM_API_KEY
	// environment variable overrides it. An empty key is not a load error:
	// every relay session reports it to its client instead.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's streaming endpoint.
	BaseURL string `yaml:"base_url"`

	// Model and Language select the recognition model.
	Model    string `yaml:"model"`
	Language string `yaml:"language"`

	// FallbackBaseURL, when set, is dialed with the same credentials after
	// the primary endpoint fails or its breaker is open.
	FallbackBaseURL string `yaml:"fallback_base_url"`

	// Breaker tunes the per-endpoint circuit breaker.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the upstream circuit breakers. Zero values keep the
// defaults applied by [ApplyDefaults].
type BreakerConfig struct {
	// MaxFailures is the number of consecutive dial failures that open a
	// breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker rejects dials before it
	// probes the endpoint again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// AttemptTimeout bounds one endpoint's dial so the fallback still fits
	// in relay.connect_timeout. Zero disables it.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// RelayConfig tunes the per-connection relay session. All fields are hot
// reloadable; running sessions keep the values they started with.
type RelayConfig struct {
	// Path is the WebSocket endpoint path.
	Path string `yaml:"path"`

	// ConnectTimeout bounds how long the upstream socket may take to open.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// KeepAliveInterval is the period of upstream keepalive messages.
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`

	// FlushGrace is how long trailing results may arrive after the client
	// went away and the end-of-stream message was sent.
	FlushGrace time.Duration `yaml:"flush_grace"`

	// Endpointing and UtteranceEnd are passed to the provider.
	Endpointing  time.Duration `yaml:"endpointing"`
	UtteranceEnd time.Duration `yaml:"utterance_end"`

	// AllowedOrigins lists origin patterns accepted for browser clients.
	// Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MetricsConfig tunes live delivery metrics.
type MetricsConfig struct {
	// FillerWords replaces the default filler-word set when non-empty.
	FillerWords []string `yaml:"filler_words"`

	// LongPause is the smallest inter-word gap counted as a long pause.
	LongPause time.Duration `yaml:"long_pause"`
}

// AlignmentConfig overrides alignment engine thresholds. Zero values keep
// the engine defaults.
type AlignmentConfig struct {
	Notify                    teleprompter.NotifyMode `yaml:"notify"`
	MinDwell                  time.Duration           `yaml:"min_dwell"`
	FastForwardRatio          float64                 `yaml:"fast_forward_ratio"`
	FastForwardMinMatches     int                     `yaml:"fast_forward_min_matches"`
	FallbackRatio             float64                 `yaml:"fallback_ratio"`
	FallbackMinMatches        int                     `yaml:"fallback_min_matches"`
	FallbackStall             time.Duration           `yaml:"fallback_stall"`
	FallbackSilence           time.Duration           `yaml:"fallback_silence"`
	FallbackSilenceMinMatches int                     `yaml:"fallback_silence_min_matches"`
	PauseGrace                time.Duration           `yaml:"pause_grace"`
	ProtectedStaleWindow      time.Duration           `yaml:"protected_stale_window"`
	HardCap                   int                     `yaml:"hard_cap"`
	SoftCap                   int                     `yaml:"soft_cap"`
	CompletionHold            time.Duration           `yaml:"completion_hold"`
	Debounce                  time.Duration           `yaml:"debounce"`
	FrameInterval             time.Duration           `yaml:"frame_interval"`
	IdleTick                  time.Duration           `yaml:"idle_tick"`

	// Phonetic enables Double Metaphone matching in token equality.
	Phonetic bool `yaml:"phonetic"`
}

// Thresholds returns the engine defaults with every non-zero field of a
// applied on top.
func (a AlignmentConfig) Thresholds() teleprompter.Thresholds {
	t := teleprompter.DefaultThresholds()
	setDur := func(dst *time.Duration, v time.Duration) {
		if v != 0 {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setFloat := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	if a.Notify != "" {
		t.Notify = a.Notify
	}
	setDur(&t.MinDwell, a.MinDwell)
	setFloat(&t.FastForwardRatio, a.FastForwardRatio)
	setInt(&t.FastForwardMinMatches, a.FastForwardMinMatches)
	setFloat(&t.FallbackRatio, a.FallbackRatio)
	setInt(&t.FallbackMinMatches, a.FallbackMinMatches)
	setDur(&t.FallbackStall, a.FallbackStall)
	setDur(&t.FallbackSilence, a.FallbackSilence)
	setInt(&t.FallbackSilenceMinMatches, a.FallbackSilenceMinMatches)
	setDur(&t.PauseGrace, a.PauseGrace)
	setDur(&t.ProtectedStaleWindow, a.ProtectedStaleWindow)
	setInt(&t.HardCap, a.HardCap)
	setInt(&t.SoftCap, a.SoftCap)
	setDur(&t.CompletionHold, a.CompletionHold)
	setDur(&t.Debounce, a.Debounce)
	setDur(&t.FrameInterval, a.FrameInterval)
	setDur(&t.IdleTick, a.IdleTick)
	return t
}

// RecordLogConfig selects the recording log backend.
type RecordLogConfig struct {
	// DSN selects the backend: "postgres://..." or "postgresql://..." for
	// PostgreSQL, "sqlite:<path>" or "file:<path>" for SQLite, empty for an
	// in-memory log.
	DSN string `yaml:"dsn"`
}
