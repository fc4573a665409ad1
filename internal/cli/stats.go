package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

func newStatsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Approver statistics",
	}
	cmd.AddCommand(newStatsExportCommand(app))
	return cmd
}

func newStatsExportCommand(app *App) *cobra.Command {
	var approvers []string
	var from, to string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an xlsx report of approver statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := parseDateRange(from, to)
			if err != nil {
				return err
			}

			c, cleanup, err := app.startContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			path, err := c.Services().Export.ExportStatistics(cmd.Context(), approvers, rng)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", path)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&approvers, "approver", nil, "approver id (repeatable)")
	cmd.Flags().StringVar(&from, "from", "", "first day included, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "first day excluded, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("approver")
	return cmd
}

func parseDateRange(from, to string) (entity.DateRange, error) {
	var rng entity.DateRange
	var err error
	if from != "" {
		if rng.From, err = time.Parse("2006-01-02", from); err != nil {
			return rng, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if to != "" {
		if rng.To, err = time.Parse("2006-01-02", to); err != nil {
			return rng, fmt.Errorf("invalid --to: %w", err)
		}
	}
	return rng, nil
}
