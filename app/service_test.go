package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/optiroute/config"
	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/notify"
	"github.com/kilianp07/optiroute/internal/eventbus"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Traffic.Routes = []string{"north", "south"}
	cfg.Traffic.Seed = 11
	cfg.Fleet.Generate = config.GenerateConfig{Count: 6, Seed: 3, Capacity: 30}
	cfg.Jobs.Disabled = true
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestSimulateDrivesOrders(t *testing.T) {
	bus := notify.NewBusNotifier(eventbus.NewTyped[model.Message](1024))
	assigned := bus.Bus.Subscribe(func(m model.Message) bool { return m.Type == model.MsgOrderAssignment })
	svc, err := New(testConfig(t), WithNotifier(bus), WithClock(fixedClock()), WithoutJobs())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx := context.Background()
	require.NoError(t, svc.StartFleet(ctx))
	require.Len(t, svc.Fleet, 6)

	sum, err := svc.Simulate(ctx, SimulationConfig{Orders: 30, Seed: 5, KnockoutEvery: 12})
	require.NoError(t, err)
	assert.Equal(t, 30, sum.Submitted)
	assert.Positive(t, sum.Completed)
	assert.NotEmpty(t, sum.Knockouts)
	assert.NotEmpty(t, sum.Performance)
	if sum.Completed > 0 {
		assert.Positive(t, sum.AvgMinutes)
	}

	require.NotEmpty(t, assigned, "assignments must be notified")
	assert.Equal(t, model.MsgOrderAssignment, (<-assigned).Type)
}

func TestSimulateWithoutFleet(t *testing.T) {
	svc, err := New(testConfig(t), WithoutJobs())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	_, err = svc.Simulate(context.Background(), SimulationConfig{Orders: 1})
	require.Error(t, err)
}

func TestRestoreFromJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	cfg := testConfig(t)
	cfg.Journal.Type = "jsonl"
	cfg.Journal.Path = path

	svc, err := New(cfg, WithClock(fixedClock()), WithoutJobs())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, svc.StartFleet(ctx))
	_, err = svc.Simulate(ctx, SimulationConfig{Orders: 10, Seed: 1})
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	restored, err := New(cfg, WithClock(fixedClock()), WithoutJobs())
	require.NoError(t, err)
	t.Cleanup(func() { _ = restored.Close() })
	n, _ := restored.Restore(ctx)
	assert.Greater(t, n, 6)
	assert.Len(t, restored.Coordinator.Status().Workers, 6)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs.Disabled = false
	svc, err := New(cfg, WithClock(fixedClock()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancellation")
	}
}

func TestMQTTTrafficRequiresBroker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Traffic.Source = "mqtt"
	_, err := New(cfg, WithoutJobs())
	require.Error(t, err)
}
