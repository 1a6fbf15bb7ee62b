package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/scriptcue/internal/config"
	"github.com/MrWong99/scriptcue/internal/observe"
	"github.com/MrWong99/scriptcue/internal/resilience"
	"github.com/MrWong99/scriptcue/pkg/provider/stt"
	"github.com/MrWong99/scriptcue/pkg/provider/stt/deepgram"
)

// registerBuiltinProviders wires all built-in ASR factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(asr config.ASRConfig) (stt.Dialer, error) {
		var opts []deepgram.Option
		if asr.Model != "" {
			opts = append(opts, deepgram.WithModel(asr.Model))
		}
		if asr.Language != "" {
			opts = append(opts, deepgram.WithLanguage(asr.Language))
		}
		if asr.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(asr.BaseURL))
		}
		c, err := deepgram.New(asr.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// buildDialer creates the upstream dialer for cfg: the configured provider,
// plus the fallback endpoint when one is set, each behind a circuit breaker.
// A missing API key is not fatal: it yields a nil dialer and every relay
// session reports it. Breaker transitions are recorded on m when non-nil.
func buildDialer(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (stt.Dialer, error) {
	primary, err := reg.CreateSTT(cfg.ASR)
	switch {
	case errors.Is(err, stt.ErrMissingAPIKey):
		slog.Warn("no ASR API key; relay sessions will report missing_api_key", "provider", cfg.ASR.Provider, "env", config.APIKeyEnv)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("create asr provider %q: %w", cfg.ASR.Provider, err)
	}

	b := cfg.ASR.Breaker
	breaker := resilience.CircuitBreakerConfig{
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Info("asr endpoint breaker changed", "endpoint", name, "from", from, "to", to)
			if m != nil {
				m.RecordBreakerTransition(context.Background(), name, to.String())
			}
		},
	}
	d := resilience.NewDialer(primary, cfg.ASR.Provider, resilience.DialerConfig{
		Breaker:        breaker,
		AttemptTimeout: b.AttemptTimeout,
	})

	if cfg.ASR.FallbackBaseURL != "" {
		alt := cfg.ASR
		alt.BaseURL = cfg.ASR.FallbackBaseURL
		fallback, err := reg.CreateSTT(alt)
		if err != nil {
			return nil, fmt.Errorf("create asr fallback %q: %w", cfg.ASR.Provider, err)
		}
		d.AddFallback(cfg.ASR.Provider+"-fallback", fallback)
	}
	slog.Info("provider created", "kind", "asr", "name", cfg.ASR.Provider, "endpoints", len(d.Endpoints()))
	return d, nil
}
