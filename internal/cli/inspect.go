package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/analyst/pkg/dataset"
)

type InspectCmd struct{}

func NewInspectCmd() *InspectCmd {
	return &InspectCmd{}
}

func (c *InspectCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the dataset metadata the analytics agent sees",
		RunE: withApp(func(ctx context.Context, log *slog.Logger, app *App, cmd *cobra.Command, args []string) error {
			summary, err := cmd.Flags().GetBool("summary")
			if err != nil {
				return fmt.Errorf("failed to get summary flag: %w", err)
			}
			if summary {
				writeColumnSummary(cmd.OutOrStdout(), app.Dataset)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), app.Tools.GetMetadata())
			return nil
		}),
	}
	cmd.Flags().Bool("summary", false, "print per-column type, null and distinct counts instead")
	return cmd
}

func writeColumnSummary(w io.Writer, ds *dataset.Dataset) {
	fmt.Fprintf(w, "Rows: %d\n", ds.Len())
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Column", "Dtype", "Non-null", "Distinct"})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, c := range ds.Columns {
		nonNull := 0
		for _, v := range c.Values {
			if !dataset.IsMissing(v) {
				nonNull++
			}
		}
		table.Append([]string{
			c.Name,
			c.Type.DType(),
			strconv.Itoa(nonNull),
			strconv.Itoa(len(c.Unique())),
		})
	}
	table.Render()
}
