package cmd

import (
	"github.com/spf13/cobra"
)

// newServeCmd starts the HTTP API and the retention schedule.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the progress HTTP API",
		Long: `Serves the tracker API until SIGINT or SIGTERM, then drains open
requests and streams before closing the store and notifiers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}
