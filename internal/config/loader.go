package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// APIKeyEnv is the environment variable that overrides asr.api_key.
const APIKeyEnv = "DEEPGRAM_API_KEY"

// ValidProviderNames lists known ASR provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"deepgram"}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultRelayPath         = "/v1/listen"
	DefaultConnectTimeout    = 10 * time.Second
	DefaultKeepAliveInterval = 5 * time.Second
	DefaultFlushGrace        = time.Second
	DefaultEndpointing       = 300 * time.Millisecond
	DefaultUtteranceEnd      = time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultBreakerFailures   = 5
	DefaultBreakerReset      = 30 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment override, and validates the result. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	return cfg
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.ASR.Provider == "" {
		cfg.ASR.Provider = "deepgram"
	}
	if cfg.ASR.Breaker.MaxFailures == 0 {
		cfg.ASR.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if cfg.ASR.Breaker.ResetTimeout == 0 {
		cfg.ASR.Breaker.ResetTimeout = DefaultBreakerReset
	}
	r := &cfg.Relay
	if r.Path == "" {
		r.Path = DefaultRelayPath
	}
	if r.ConnectTimeout == 0 {
		r.ConnectTimeout = DefaultConnectTimeout
	}
	if r.KeepAliveInterval == 0 {
		r.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if r.FlushGrace == 0 {
		r.FlushGrace = DefaultFlushGrace
	}
	if r.Endpointing == 0 {
		r.Endpointing = DefaultEndpointing
	}
	if r.UtteranceEnd == 0 {
		r.UtteranceEnd = DefaultUtteranceEnd
	}
}

// ApplyEnv applies environment overrides using lookup (usually
// [os.LookupEnv]).
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(APIKeyEnv); ok && strings.TrimSpace(v) != "" {
		cfg.ASR.APIKey = strings.TrimSpace(v)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// ASR
	validateProviderName(cfg.ASR.Provider)
	if cfg.ASR.APIKey == "" {
		slog.Warn("asr.api_key is empty; relay sessions will report missing_api_key to clients", "env", APIKeyEnv)
	}
	if cfg.ASR.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("asr.breaker.max_failures %d must not be negative", cfg.ASR.Breaker.MaxFailures))
	}
	if b := cfg.ASR.Breaker; b.AttemptTimeout > 0 && cfg.Relay.ConnectTimeout > 0 && b.AttemptTimeout >= cfg.Relay.ConnectTimeout {
		slog.Warn("asr.breaker.attempt_timeout is not below relay.connect_timeout; the fallback endpoint will never be reached in time",
			"attempt_timeout", b.AttemptTimeout, "connect_timeout", cfg.Relay.ConnectTimeout)
	}

	// Relay
	if !strings.HasPrefix(cfg.Relay.Path, "/") {
		errs = append(errs, fmt.Errorf("relay.path %q must start with /", cfg.Relay.Path))
	}
	for name, d := range map[string]time.Duration{
		"relay.connect_timeout":       cfg.Relay.ConnectTimeout,
		"relay.keepalive_interval":    cfg.Relay.KeepAliveInterval,
		"relay.flush_grace":           cfg.Relay.FlushGrace,
		"relay.endpointing":           cfg.Relay.Endpointing,
		"relay.utterance_end":         cfg.Relay.UtteranceEnd,
		"metrics.long_pause":          cfg.Metrics.LongPause,
		"asr.breaker.reset_timeout":   cfg.ASR.Breaker.ResetTimeout,
		"asr.breaker.attempt_timeout": cfg.ASR.Breaker.AttemptTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", name, d))
		}
	}

	// Alignment
	a := cfg.Alignment
	if a.Notify != "" && !a.Notify.IsValid() {
		errs = append(errs, fmt.Errorf("alignment.notify %q is invalid; valid values: deferred, immediate", a.Notify))
	}
	for name, v := range map[string]float64{
		"alignment.fast_forward_ratio": a.FastForwardRatio,
		"alignment.fallback_ratio":     a.FallbackRatio,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", name, v))
		}
	}
	th := a.Thresholds()
	if th.HardCap <= 0 {
		errs = append(errs, fmt.Errorf("alignment.hard_cap %d must be positive", th.HardCap))
	}
	if th.SoftCap < th.HardCap {
		errs = append(errs, fmt.Errorf("alignment.soft_cap %d must not be below hard_cap %d", th.SoftCap, th.HardCap))
	}

	// Recording log
	if dsn := cfg.RecordLog.DSN; dsn != "" && !knownDSN(dsn) {
		errs = append(errs, fmt.Errorf("recordlog.dsn %q has an unsupported scheme; use postgres://, sqlite: or file:", dsn))
	}

	return errors.Join(errs...)
}

func knownDSN(dsn string) bool {
	for _, p := range []string{"postgres://", "postgresql://", "sqlite:", "file:", "memory:"} {
		if strings.HasPrefix(dsn, p) {
			return true
		}
	}
	return false
}

// validateProviderName logs a warning if name is not found in
// [ValidProviderNames].
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown ASR provider name; may be a typo or a third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
