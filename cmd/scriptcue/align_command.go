package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/scriptcue/internal/config"
	"github.com/MrWong99/scriptcue/internal/teleprompter"
	"github.com/MrWong99/scriptcue/pkg/align"
	"github.com/MrWong99/scriptcue/pkg/align/phonetic"
)

type alignOptions struct {
	scriptPath     string
	transcriptPath string
	step           time.Duration
}

func newAlignCommand(ctx *commandContext) *cobra.Command {
	opts := alignOptions{}
	cmd := &cobra.Command{
		Use:   "align",
		Short: "Replay a transcript against a script offline",
		Long: "align feeds each transcript line to the alignment engine as a final\n" +
			"result, one every --step, and prints which script lines completed and why.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			script, err := readLinesFile(opts.scriptPath)
			if err != nil {
				return err
			}
			transcript, err := readLinesFile(opts.transcriptPath)
			if err != nil {
				return err
			}
			res := replay(cfg.Alignment, script, transcript, opts.step)
			printReplay(cmd.OutOrStdout(), script, res)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.scriptPath, "script", "", "script file, one line per teleprompter line")
	f.StringVar(&opts.transcriptPath, "transcript", "-", "transcript file, one final result per line, - for stdin")
	f.DurationVar(&opts.step, "step", 2*time.Second, "simulated time between transcript lines")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

type replayResult struct {
	advances []teleprompter.Advance
	complete bool
	start    time.Time
}

// replay drives an engine synchronously on a simulated clock. Held
// completions are flushed once the transcript is exhausted.
func replay(ac config.AlignmentConfig, script, transcript []string, step time.Duration) replayResult {
	res := replayResult{start: time.Unix(0, 0).UTC()}
	opts := []teleprompter.Option{
		teleprompter.WithThresholds(ac.Thresholds()),
		teleprompter.OnAdvance(func(a teleprompter.Advance) {
			res.advances = append(res.advances, a)
		}),
		teleprompter.OnRecordingEnd(func() { res.complete = true }),
	}
	if ac.Phonetic {
		opts = append(opts, teleprompter.WithEqualer(align.NewEqualer(align.WithPhonetic(phonetic.New()))))
	}
	eng := teleprompter.New(opts...)

	now := res.start
	eng.Load(script, now)
	for _, chunk := range transcript {
		now = now.Add(step)
		eng.PushFinal(chunk, now)
		eng.Pass(now)
	}
	for {
		deadline, ok := eng.HoldDeadline()
		if !ok {
			break
		}
		now = deadline
		eng.Pass(now)
	}
	return res
}

func printReplay(w io.Writer, script []string, res replayResult) {
	rows := make([][]string, 0, len(res.advances))
	done := 0
	for _, a := range res.advances {
		text := ""
		if a.From < len(script) {
			text = script[a.From]
		}
		lines := strconv.Itoa(a.From + 1)
		if a.To-a.From > 1 {
			lines += "-" + strconv.Itoa(a.To)
		}
		rows = append(rows, []string{
			lines,
			truncate(text, 40),
			string(a.Reason),
			truncate(a.Text, 40),
			a.At.Sub(res.start).String(),
		})
		done = a.To
	}
	writeTable(w, []string{"Lines", "Script", "Reason", "Spoken", "At"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight})
	status := "incomplete"
	if res.complete {
		status = "complete"
	}
	fmt.Fprintf(w, "%d/%d lines, %s\n", done, len(script), status)
}
