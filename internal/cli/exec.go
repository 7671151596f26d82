package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

type ExecCmd struct{}

func NewExecCmd() *ExecCmd {
	return &ExecCmd{}
}

func (c *ExecCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run a snippet against the dataset the way execute_code does",
		RunE: withApp(func(ctx context.Context, log *slog.Logger, app *App, cmd *cobra.Command, args []string) error {
			code, err := cmd.Flags().GetString("code")
			if err != nil {
				return fmt.Errorf("failed to get code flag: %w", err)
			}
			if code == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read code from stdin: %w", err)
				}
				code = string(data)
			}
			if strings.TrimSpace(code) == "" {
				return errors.New("code is required")
			}

			out, isErr := app.Tools.ExecuteCode(ctx, code)
			fmt.Fprintln(cmd.OutOrStdout(), out)
			if isErr {
				return errors.New("execution failed")
			}

			evaluate, err := cmd.Flags().GetBool("score")
			if err != nil {
				return fmt.Errorf("failed to get score flag: %w", err)
			}
			if !evaluate {
				return nil
			}
			verdict, err := app.Scorer.Score(ctx, code, "")
			if err != nil {
				return fmt.Errorf("failed to score code: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), verdict.Summary())
			return nil
		}),
	}
	cmd.Flags().String("code", "", "snippet to execute, or - to read it from stdin")
	cmd.Flags().Bool("score", false, "also print the evaluator verdict")
	return cmd
}
