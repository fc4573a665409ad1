package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newOverdueCommand(app *App) *cobra.Command {
	var asOf string
	var approver string
	var failOnOverdue bool

	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "List pending steps past their SLA deadline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Now().UTC()
			if asOf != "" {
				parsed, err := time.Parse(time.RFC3339, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
				at = parsed.UTC()
			}

			c, cleanup, err := app.startContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			steps, err := c.Services().Overdue.Overdue(cmd.Context(), at, approver)
			if err != nil {
				return err
			}
			c.Metrics().OverdueSteps(len(steps))

			if len(steps) == 0 {
				printf(cmd.OutOrStdout(), "no overdue steps as of %s\n", at.Format(time.RFC3339))
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STEP\tINSTANCE\tORDER\tROLE\tASSIGNED\tDEADLINE\tLATE BY")
			for _, s := range steps {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					s.ID, s.InstanceID, s.StepOrder, s.ApproverRole, s.AssignedApproverID,
					s.SLADeadline.Format(time.RFC3339), at.Sub(s.SLADeadline).Truncate(time.Minute))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failOnOverdue {
				return &ExitError{Code: 3}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "RFC 3339 instant to evaluate deadlines at (default now)")
	cmd.Flags().StringVar(&approver, "approver", "", "only steps this approver may act on")
	cmd.Flags().BoolVar(&failOnOverdue, "exit-code", false, "exit with status 3 when any step is overdue")
	return cmd
}
