package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/approval-workflow/internal/container"
	httpapi "github.com/garyjia/approval-workflow/internal/interfaces/http"
	"github.com/garyjia/approval-workflow/pkg/utils"
)

func newServeCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		Long: `Run the approval HTTP API. On startup the database is migrated,
the rule seed file (rules.seed_file) is imported and the overdue reporter
is scheduled (overdue.schedule). SIGINT or SIGTERM shuts down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := app.loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("Starting approval workflow service",
				zap.String("version", Version),
				zap.Int("port", cfg.Server.Port))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := container.NewContainer(cfg, logger)
			if err != nil {
				return err
			}
			if err := c.Start(ctx); err != nil {
				return err
			}
			defer c.Close()

			services := c.Services()
			server := httpapi.NewServer(httpapi.ServerConfig{
				Host:         cfg.Server.Host,
				Port:         cfg.Server.Port,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}, httpapi.Dependencies{
				Engine:  c.Engine(),
				Rules:   services.Rules,
				Audit:   services.Audit,
				Overdue: services.Overdue,
				Export:  services.Export,
				Store:   c.TxManager(),
				Metrics: c.MetricsHandler(),
			}, utils.NewKVLogger(logger))

			return server.Start(ctx)
		},
	}
}
