package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/MrWong99/scriptcue/internal/app"
	"github.com/MrWong99/scriptcue/internal/config"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "scriptcue",
		Short:         "Teleprompter transcription relay and script alignment",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to the YAML configuration file (defaults apply when empty)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newPromptCommand(ctx))
	rootCmd.AddCommand(newAlignCommand(ctx))
	return rootCmd
}

// commandContext loads the configuration once per invocation.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := c.configPath()
		if path == "" {
			c.config = config.Default()
			return
		}
		cfg, err := config.Load(path)
		if errors.Is(err, os.ErrNotExist) {
			c.configErr = fmt.Errorf("config file %q not found; run without --config to use defaults", path)
			return
		}
		c.config, c.configErr = cfg, err
	})
	return c.config, c.configErr
}

// newLogger builds the process logger. The returned level can be changed at
// runtime.
func newLogger(w io.Writer, level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(app.SlogLevel(level))
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})), lv
}
