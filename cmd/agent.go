package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/optiroute/core/prediction"
	"github.com/kilianp07/optiroute/core/worker"
	"github.com/kilianp07/optiroute/infra/logger"
	"github.com/kilianp07/optiroute/infra/mqtt"
)

var (
	agentWorker   string
	agentInterval time.Duration
	agentCapacity float64
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Serve a simulated worker over MQTT",
	RunE:  runAgent,
}

func init() {
	f := agentCmd.Flags()
	f.StringVar(&agentWorker, "worker", "", "worker id, looked up in the fleet section")
	f.DurationVar(&agentInterval, "heartbeat", 10*time.Second, "heartbeat interval")
	f.Float64Var(&agentCapacity, "capacity", 20, "capacity of a worker missing from the fleet section")
	_ = agentCmd.MarkFlagRequired("worker")
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.MQTT.Enabled() {
		return fmt.Errorf("agent requires mqtt.broker")
	}
	sc := worker.SimConfig{ID: agentWorker, Type: "delivery", Capacity: agentCapacity, Seed: time.Now().UnixNano()}
	for _, c := range cfg.Fleet.Build() {
		if c.ID == agentWorker {
			sc = c
			break
		}
	}
	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = fmt.Sprintf("agent-%s-%d", agentWorker, time.Now().UnixNano())
	cli, err := mqtt.NewPahoClient(mqttCfg)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer cli.Disconnect()

	pred := prediction.NewPredictor(cfg.Prediction, prediction.WithLogger(logger.New("prediction")))
	sim := worker.NewSimulated(sc, worker.WithTraffic(pred))
	logger.New("agent").Infof("serving worker %s", sc.ID)
	return mqtt.NewAgent(cli, sim, sim.Profile(), mqttCfg.ReplyTimeout()).Run(ctx, agentInterval)
}
