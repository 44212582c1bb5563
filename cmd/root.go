// Package cmd defines and implements the CLI commands for the progress-tracker executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/progress-tracker/internal/config"
	"github.com/JakeFAU/progress-tracker/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// buildApp is the application factory. It's a variable so tests can swap in
// isolated collaborators.
var buildApp = func(ctx context.Context, cfg config.Config) (*server.App, error) {
	return server.Build(ctx, cfg, server.Options{})
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "progress-tracker",
		Short: "Tracks the progress of long-running operations.",
		Long: `progress-tracker records the progress of long-running operations and
serves it over HTTP, including a Server-Sent Events stream per tracker.
Trackers live in memory, Redis, or Postgres and expire on a sliding TTL.`,
		SilenceUsage: true,

		// Runs before every subcommand's RunE so each one receives a built App.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, app))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env PROGRESS_* overrides apply)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newStatsCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*server.App, error) {
	app, ok := ctx.Value(appKey).(*server.App)
	if !ok || app == nil {
		return nil, errors.New("application services not initialized")
	}
	return app, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
