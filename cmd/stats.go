package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStatsCmd prints aggregate tracker statistics as JSON.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print tracker statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(cmd.Context()) }()

			stats, err := app.Service().Statistics(cmd.Context())
			if err != nil {
				return fmt.Errorf("statistics: %w", err)
			}
			return printJSON(cmd, stats)
		},
	}
}
