package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newCleanupCmd runs a single retention sweep and prints its result.
func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete finished trackers older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(cmd.Context()) }()

			res, err := app.Service().Cleanup(cmd.Context())
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			return printJSON(cmd, res)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
