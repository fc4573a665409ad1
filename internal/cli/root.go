// Package cli implements the approvald command line
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/approval-workflow/internal/config"
	"github.com/garyjia/approval-workflow/internal/container"
	"github.com/garyjia/approval-workflow/pkg/utils"
)

// Version is stamped at build time
var Version = "dev"

// App carries the state shared by every subcommand
type App struct {
	ConfigPath string
}

// ExitError carries a specific process exit code out of a command
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewRootCommand builds the command tree
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "approvald",
		Short:         "Rule-driven multi-step approval workflow service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&app.ConfigPath, "config", "c", app.ConfigPath,
		"path to the YAML config file (empty uses defaults and environment)")

	root.AddCommand(
		newServeCommand(app),
		newMigrateCommand(app),
		newRulesCommand(app),
		newOverdueCommand(app),
		newStatsCommand(app),
	)
	return root
}

// Execute runs the CLI with os.Args and returns the process exit code
func Execute() int {
	app := &App{ConfigPath: os.Getenv("APPROVAL_CONFIG")}
	cmd := NewRootCommand(app)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func (app *App) loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(app.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// startContainer loads config and starts a container for a one-shot command.
// Background workers and rule seeding are left to serve.
func (app *App) startContainer(ctx context.Context) (*container.Container, func(), error) {
	cfg, logger, err := app.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg.Overdue.Schedule = ""
	cfg.Rules.SeedFile = ""

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = c.Close()
		_ = logger.Sync()
	}
	return c, cleanup, nil
}

func printf(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}
