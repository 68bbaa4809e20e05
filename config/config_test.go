package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/optiroute/core/worker"
)

func write(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

//nolint:gocyclo
func TestLoad(t *testing.T) {
	path := write(t, "config.yaml", `coordinator:
  id: "hub"
  delivery_type: "delivery"
dispatch:
  distance_decay: 5
  weights:
    distance: 0.5
    capacity: 0.5
negotiation:
  window_ms: 200
traffic:
  routes: ["r1", "r2"]
jobs:
  liveness: "@every 15s"
journal:
  type: "memory"
metrics:
  prometheus_addr: ":9100"
  sinks:
    - type: "nop"
notifiers:
  - type: "log"
    conf:
      component: "messages"
mqtt:
  broker: "tcp://localhost:1883"
  topic_prefix: "city"
logging:
  level: "info"
fleet:
  workers:
    - id: "van1"
      type: "delivery"
      capacity: 50
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"coordinator.id", cfg.Coordinator.ID, "hub"},
		{"coordinator.delivery_type", cfg.Coordinator.DeliveryType, "delivery"},
		{"dispatch.distance_decay", cfg.Dispatch.DistanceDecay, 5.0},
		{"dispatch.weights.distance", cfg.Dispatch.Weights.Distance, 0.5},
		{"dispatch.accept_timeout_ms default", cfg.Dispatch.AcceptTimeoutMS, 2000},
		{"negotiation.window_ms", cfg.Negotiation.WindowMS, 200},
		{"traffic.routes", len(cfg.Traffic.Routes), 2},
		{"jobs.liveness", cfg.Jobs.Liveness, "@every 15s"},
		{"jobs.pending default", cfg.Jobs.Pending, "@every 5s"},
		{"journal.type", cfg.Journal.Type, "memory"},
		{"metrics.prometheus_addr", cfg.Metrics.PrometheusAddr, ":9100"},
		{"notifier", cfg.Notifiers[0].Type, "log"},
		{"notifier conf", cfg.Notifiers[0].Conf["component"], "messages"},
		{"mqtt.broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"mqtt.topic_prefix", cfg.MQTT.TopicPrefix, "city"},
		{"logging.level", cfg.Logging.Level, "info"},
		{"fleet.workers", cfg.Fleet.Workers[0].Capacity, 50.0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: got %v want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadJSONAndEnvOverride(t *testing.T) {
	path := write(t, "config.json", `{"coordinator":{"id":"hub"},"dispatch":{"distance_decay":5}}`)
	t.Setenv("OPTIROUTE_DISPATCH__DISTANCE_DECAY", "12.5")
	t.Setenv("OPTIROUTE_COORDINATOR__LIVENESS_TIMEOUT_SECONDS", "45")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12.5, cfg.Dispatch.DistanceDecay)
	assert.Equal(t, 45, cfg.Coordinator.LivenessTimeoutSeconds)
	assert.Equal(t, "hub", cfg.Coordinator.ID)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "coordinator", cfg.Coordinator.ID)
	assert.Equal(t, 0.4, cfg.Dispatch.Weights.Distance)
	assert.Equal(t, 10.0, cfg.Dispatch.DistanceDecay)
	assert.Equal(t, 0.1, cfg.Prediction.LearningRate)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(write(t, "config.toml", ""))
	require.Error(t, err)

	_, err = Load(write(t, "bad.yaml", `dispatch:
  weights:
    distance: -1
journal:
  type: "tape"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "distance")
	assert.Contains(t, err.Error(), "tape")

	_, err = Load(write(t, "dup.yaml", `fleet:
  workers:
    - id: "a"
    - id: "a"
`))
	require.Error(t, err)
}

func TestFleetBuild(t *testing.T) {
	f := FleetConfig{
		Workers:  []worker.SimConfig{{ID: "w002", Type: "warehouse"}},
		Generate: GenerateConfig{Count: 3, Seed: 7, Types: map[string]float64{"delivery": 1, "express": 1}},
	}
	f.SetDefaults()
	require.NoError(t, f.Validate())
	ws := f.Build()
	require.Len(t, ws, 4)
	ids := []string{ws[0].ID, ws[1].ID, ws[2].ID, ws[3].ID}
	assert.Equal(t, []string{"w002", "w001", "w003", "w004"}, ids)
	for _, w := range ws[1:] {
		assert.Contains(t, []string{"delivery", "express"}, w.Type)
		assert.Equal(t, 20.0, w.Capacity)
		assert.LessOrEqual(t, w.Start.Lat, 5.0)
		assert.GreaterOrEqual(t, w.Start.Lat, -5.0)
	}
	again := f.Build()
	assert.Equal(t, ws, again, "same seed yields the same fleet")
}
