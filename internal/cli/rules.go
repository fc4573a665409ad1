package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/infrastructure/ruleseed"
)

func newRulesCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage approval rules",
	}
	cmd.AddCommand(newRulesImportCommand(app), newRulesListCommand(app))
	return cmd
}

func newRulesImportCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update rules from a YAML seed file",
		Long: `Import rules from a YAML file with a top-level "rules" list.
Rules are matched by id: new ids are created, changed rules get a new
version and identical rules are left alone. One invalid rule aborts the
whole import.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := ruleseed.LoadFile(args[0])
			if err != nil {
				return err
			}

			c, cleanup, err := app.startContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := c.Services().Rules.ImportRules(cmd.Context(), rules)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "created %d, updated %d, unchanged %d, skipped %d\n",
				result.Created, result.Updated, result.Unchanged, result.Skipped)
			return nil
		},
	}
}

func newRulesListCommand(app *App) *cobra.Command {
	var ruleType string
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := app.startContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			rules, err := c.Services().Rules.ListRules(cmd.Context(), port.RuleFilter{
				RuleType:        ruleType,
				IncludeDisabled: all,
			})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tPRIORITY\tENABLED\tVERSION\tSTEPS")
			for _, r := range rules {
				roles := make([]string, 0, len(r.StepTemplate))
				for _, s := range r.StepTemplate.Sorted() {
					roles = append(roles, s.ApproverRole)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%d\t%s\n",
					r.ID, r.RuleType, r.Priority, r.Enabled, r.Version, strings.Join(roles, " > "))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&ruleType, "type", "", "only rules of this type")
	cmd.Flags().BoolVar(&all, "all", false, "include disabled rules")
	return cmd
}
