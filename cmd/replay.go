package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/optiroute/app"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild state from the journal and print it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, err := app.New(cfg, app.WithoutJobs())
		if err != nil {
			return err
		}
		defer svc.Close()
		n, err := svc.Restore(ctx)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d records\n", n)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(svc.Coordinator.Status())
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
