package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scriptcue/internal/app"
	"github.com/MrWong99/scriptcue/internal/config"
	"github.com/MrWong99/scriptcue/internal/observe"
)

// version is set at build time with -ldflags.
var version = "dev"

func newServeCommand(ctx *commandContext) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}
			return runServe(cmd.Context(), cfg, ctx.configPath(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides server.listen_addr")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config, configPath string, out io.Writer) error {
	logger, level := newLogger(os.Stderr, cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("scriptcue starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"version", version,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, version)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	dialer, err := buildDialer(cfg, reg, observe.DefaultMetrics())
	if err != nil {
		return err
	}

	application, err := app.New(ctx, cfg, app.WithDialer(dialer), app.WithLevel(level))
	if err != nil {
		return err
	}
	printStartupSummary(out, cfg, dialer != nil)

	if configPath != "" {
		w, err := config.NewWatcher(configPath, func(next *config.Config, _ config.ConfigDiff) {
			application.ApplyConfig(next)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return application.Run(gctx)
	})
	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	slog.Info("shutdown signal received, draining sessions", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func fallbackEndpoint(cfg *config.Config) string {
	if cfg.ASR.FallbackBaseURL == "" {
		return "(none)"
	}
	return cfg.ASR.FallbackBaseURL
}

func printStartupSummary(w io.Writer, cfg *config.Config, haveKey bool) {
	asr := cfg.ASR.Provider
	if cfg.ASR.Model != "" {
		asr += " / " + cfg.ASR.Model
	}
	key := "configured"
	if !haveKey {
		key = "(missing)"
	}
	recordlog := cfg.RecordLog.DSN
	if recordlog == "" {
		recordlog = "(in memory)"
	}
	rows := [][]string{
		{"Listen addr", cfg.Server.ListenAddr},
		{"TLS", strconv.FormatBool(cfg.Server.TLS != nil)},
		{"Relay path", cfg.Relay.Path},
		{"ASR", asr},
		{"API key", key},
		{"ASR fallback", fallbackEndpoint(cfg)},
		{"Recording log", redactDSN(recordlog)},
		{"Notify mode", string(cfg.Alignment.Thresholds().Notify)},
	}
	writeTable(w, []string{"scriptcue", version}, rows, nil)
}
