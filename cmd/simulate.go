package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kilianp07/optiroute/app"
)

var simCfg app.SimulationConfig

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run random orders through the simulated fleet",
	RunE:  runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.IntVar(&simCfg.Orders, "orders", 50, "number of orders to submit")
	f.Int64Var(&simCfg.Seed, "seed", 1, "random seed")
	f.IntVar(&simCfg.KnockoutEvery, "knockout-every", 0, "take a worker offline every n orders (0 disables)")
	f.IntVar(&simCfg.TickEvery, "tick-every", 10, "refresh traffic every n orders")
	f.Float64Var(&simCfg.MaxWeight, "max-weight", 8, "maximum order weight")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, _ []string) error {
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
	if err := svc.StartFleet(ctx); err != nil {
		return err
	}
	sum, err := svc.Simulate(ctx, simCfg)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
