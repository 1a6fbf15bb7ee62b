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
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scriptcue/internal/app"
	"github.com/MrWong99/scriptcue/internal/config"
	"github.com/MrWong99/scriptcue/internal/livemetrics"
	"github.com/MrWong99/scriptcue/internal/prompter"
	"github.com/MrWong99/scriptcue/internal/recordlog"
)

type promptOptions struct {
	relayURL   string
	scriptPath string
	audioPath  string
	sampleRate int
	frameMs    int
	realtime   bool
}

func newPromptCommand(ctx *commandContext) *cobra.Command {
	opts := promptOptions{}
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Stream audio to a relay and follow a script",
		Long: "prompt streams raw 16-bit mono PCM to a running relay, follows the script\n" +
			"with the alignment engine and stores the recording in the recording log.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runPrompt(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.relayURL, "relay", "ws://localhost:8080/v1/listen", "relay WebSocket URL")
	f.StringVar(&opts.scriptPath, "script", "", "script file, one line per teleprompter line")
	f.StringVar(&opts.audioPath, "audio", "-", "raw PCM s16le mono input, - for stdin")
	f.IntVar(&opts.sampleRate, "sample-rate", 16000, "input sample rate in Hz")
	f.IntVar(&opts.frameMs, "frame-ms", 20, "audio frame length in milliseconds")
	f.BoolVar(&opts.realtime, "realtime", false, "pace file input to real time")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func runPrompt(parent context.Context, cfg *config.Config, opts promptOptions, out io.Writer) error {
	logger, _ := newLogger(os.Stderr, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lines, err := readLinesFile(opts.scriptPath)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return errors.New("script is empty")
	}
	audio, err := openInput(opts.audioPath)
	if err != nil {
		return err
	}
	defer audio.Close()

	store, err := recordlog.Open(ctx, cfg.RecordLog.DSN)
	if err != nil {
		return fmt.Errorf("open recording log: %w", err)
	}
	defer store.Close()

	sm := app.NewSessionManager(app.SessionManagerConfig{
		Store:     store,
		Alignment: cfg.Alignment,
		OnLine: func(line int) {
			fmt.Fprintf(out, "✓ %3d  %s\n", line+1, lines[line])
		},
		Logger: logger,
	})

	client, err := prompter.Dial(ctx, opts.relayURL, opts.sampleRate, prompter.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	runner, err := sm.Start(ctx, lines)
	if err != nil {
		return err
	}
	id := sm.Info().RecordingID
	ended := sm.Ended()
	fmt.Fprintf(out, "recording %s: %d lines\n", id, len(lines))

	frameBytes := opts.sampleRate * 2 * opts.frameMs / 1000
	var pace time.Duration
	if opts.realtime {
		pace = time.Duration(opts.frameMs) * time.Millisecond
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// A completed script ends the input early.
		src := &untilReader{r: audio, stop: ended, ctx: gctx}
		return client.Stream(gctx, src, frameBytes, pace)
	})
	g.Go(func() error {
		return client.Run(gctx, runner)
	})
	g.Go(func() error {
		printSnapshots(out, client.Snapshots())
		return nil
	})
	runErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sm.Stop(stopCtx); err != nil {
		slog.Warn("stop recording", "err", err)
	}
	if log, err := store.Get(stopCtx, id); err == nil {
		printRecording(out, lines, log)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// untilReader reports EOF once stop is closed or ctx is done.
type untilReader struct {
	r    io.Reader
	stop <-chan struct{}
	ctx  context.Context
}

func (u *untilReader) Read(p []byte) (int, error) {
	select {
	case <-u.stop:
		return 0, io.EOF
	case <-u.ctx.Done():
		return 0, io.EOF
	default:
	}
	return u.r.Read(p)
}

func printSnapshots(w io.Writer, snaps <-chan livemetrics.Snapshot) {
	for s := range snaps {
		if !s.IsFinal {
			continue
		}
		fmt.Fprintf(w, "  » %s  [wpm %s, fillers %d, pauses %d, accuracy %s]\n",
			s.Transcript, formatOpt(s.WPM, "%.0f"), s.FillerCount, s.LongPauses, formatOpt(s.Accuracy, "%.2f"))
	}
}

func formatOpt(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func printRecording(w io.Writer, lines []string, log *recordlog.RecordingLog) {
	rows := make([][]string, 0, len(log.Lines))
	for _, lc := range log.Lines {
		script := ""
		if lc.Line < len(lines) {
			script = lines[lc.Line]
		}
		rows = append(rows, []string{
			strconv.Itoa(lc.Line + 1),
			truncate(script, 40),
			lc.Reason,
			truncate(lc.Text, 40),
			lc.At.Sub(log.StartedAt).Round(100 * time.Millisecond).String(),
		})
	}
	writeTable(w, []string{"#", "Script", "Reason", "Spoken", "At"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight})
	fmt.Fprintf(w, "recording %s: %d/%d lines completed\n", log.ID, len(log.Lines), len(lines))
}
