package cli

import (
	"github.com/spf13/cobra"

	"github.com/garyjia/approval-workflow/pkg/database"
)

func newMigrateCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := app.loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := database.New(database.Config{
				Driver:          cfg.Database.Driver,
				DSN:             cfg.Database.DSN,
				Path:            cfg.Database.Path,
				MaxOpenConns:    cfg.Database.MaxOpenConns,
				MaxIdleConns:    cfg.Database.MaxIdleConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			}, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.NewMigrator(db, logger).Run(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "applied %d migration(s) on %s\n", applied, db.Dialect)
			return nil
		},
	}
}
