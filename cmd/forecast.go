package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kilianp07/optiroute/app"
	"github.com/kilianp07/optiroute/core/prediction"
)

var forecastHours int

var forecastCmd = &cobra.Command{
	Use:   "forecast ROUTE",
	Short: "Predict traffic on a route and suggest a departure",
	Args:  cobra.ExactArgs(1),
	RunE:  runForecast,
}

func init() {
	forecastCmd.Flags().IntVar(&forecastHours, "hours", 3, "hours ahead to forecast")
	rootCmd.AddCommand(forecastCmd)
}

type forecastOutput struct {
	Route      string                `json:"route"`
	Forecasts  []prediction.Forecast `json:"forecasts"`
	Departure  prediction.Departure  `json:"departure"`
	Confidence float64               `json:"confidence"`
}

func runForecast(cmd *cobra.Command, args []string) error {
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
	if _, err := svc.Restore(ctx); err != nil {
		return err
	}
	route := args[0]
	out := forecastOutput{Route: route, Confidence: svc.Predictor.Confidence(route)}
	for h := 0; h <= forecastHours; h++ {
		out.Forecasts = append(out.Forecasts, svc.Predictor.PredictAhead(route, h))
	}
	out.Departure = svc.Predictor.SuggestDeparture(route)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
