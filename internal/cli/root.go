// Package cli implements the analyst command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/analyst/pkg/logger"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

// BuildInfo is stamped at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

func Run(info BuildInfo) ExitCode {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "analyst",
		Short:         "Conversational analytics over a tabular sales dataset.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", info.Version, info.Commit, info.Date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "set debug logging level (env: LOG_LEVEL=debug)")
	flags.String("config", "", "path to a YAML settings file")
	flags.String("dataset", defaultDataset, "dataset path or s3://bucket/key (env: ANALYST_DATASET)")
	flags.String("engine", defaultEngine, "code execution engine: lua or sql (env: ANALYST_ENGINE)")
	flags.String("llm", LLMAnthropic, "language model backend: anthropic or ollama (env: ANALYST_LLM)")
	flags.String("model", "", "model name (env: ANALYST_MODEL)")

	rootCmd.AddCommand(
		NewServeCmd(info).Command(),
		NewAskCmd().Command(),
		NewExecCmd().Command(),
		NewInspectCmd().Command(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCodeError
	}

	return exitCodeSuccess
}

// withApp resolves settings, builds the logger and the App, and runs f with a
// context cancelled on SIGINT or SIGTERM.
func withApp(f func(ctx context.Context, log *slog.Logger, app *App, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		s, err := resolveSettings(cmd.Flags(), os.LookupEnv)
		if err != nil {
			return err
		}
		log := logger.NewWithWriter(os.Stderr, s.Verbose)

		app, err := NewApp(ctx, log, s)
		if err != nil {
			return err
		}
		defer app.Close()

		return f(ctx, log, app, cmd, args)
	}
}
