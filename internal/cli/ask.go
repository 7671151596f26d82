package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

type AskCmd struct{}

func NewAskCmd() *AskCmd {
	return &AskCmd{}
}

func (c *AskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question through the full pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, log *slog.Logger, app *App, cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question is required")
			}
			p, err := app.Pipeline()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.ProcessQuery(ctx, question))
			return nil
		}),
	}
	cmd.Flags().Bool("evaluate", false, "score generated code before answering (env: ENABLE_CODE_EVALUATION)")
	cmd.Flags().Bool("regenerate", false, "rewrite low-scoring answers automatically (env: ANALYST_REGENERATE)")
	return cmd
}
