// Package cmd defines and implements the CLI commands for the offerwatch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/config"
	"github.com/JakeFAU/offerwatch/internal/logging"
)

// ctxKey namespaces the values the root command stores for subcommands.
type ctxKey string

const (
	configKey ctxKey = "config"
	loggerKey ctxKey = "logger"
)

// options holds the persistent flags.
type options struct {
	cfgFile string
	envFile string
}

// newRootCmd creates the root command. Configuration and the logger are
// built once in PersistentPreRunE and handed to subcommands via the context.
func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "offerwatch",
		Short: "Watches Amazon product pages and alerts when a qualifying offer appears.",
		Long: `offerwatch keeps one browser session per tracked item, re-reads the
product page on a fixed interval and sends a Telegram alert when an offer
at or below the target price is shipped and sold by the configured platform.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(opts.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{
				Enabled:     cfg.Logging.Enabled,
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			ctx = context.WithValue(ctx, loggerKey, logger)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if logger, ok := cmd.Context().Value(loggerKey).(*zap.Logger); ok {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "KEY=VALUE file loaded before the environment is read")

	cmd.AddCommand(newRunCmd(), newCheckCmd())
	return cmd
}

func resolve(ctx context.Context) (config.Config, *zap.Logger, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, nil, errors.New("configuration not loaded")
	}
	logger, ok := ctx.Value(loggerKey).(*zap.Logger)
	if !ok || logger == nil {
		logger = zap.NewNop()
	}
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "offerwatch:", err)
		os.Exit(1)
	}
}
