package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/config"
	"github.com/JakeFAU/offerwatch/internal/server"
)

// runner is what the run command drives. It is satisfied by *server.App.
type runner interface {
	Run(ctx context.Context) error
}

// buildApp is a variable so tests can swap in a fake.
var buildApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (runner, error) {
	return server.Build(ctx, cfg, logger)
}

// newRunCmd creates the 'run' subcommand, which starts one watcher per
// tracked item plus the status API and blocks until SIGINT or SIGTERM.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Starts the watcher fleet",
		Long: `Loads every tracked item from the configured store, starts one watcher
per item and keeps the fleet in sync with the store until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runRunCommand,
	}
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := resolve(cmd.Context())
	if err != nil {
		return err
	}
	app, err := buildApp(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run fleet: %w", err)
	}
	logger.Info("run command finished")
	return nil
}
