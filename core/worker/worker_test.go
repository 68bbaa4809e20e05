package worker

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/prediction"
)

type bare struct{ id string }

func (b bare) ID() string { return b.id }

type slowQuoter struct {
	bare
	delay time.Duration
}

func (s slowQuoter) QuoteCost(ctx context.Context, _ model.Order) (float64, error) {
	time.Sleep(s.delay)
	return 5, nil
}

type nanQuoter struct{ bare }

func (nanQuoter) QuoteCost(context.Context, model.Order) (float64, error) { return math.NaN(), nil }

func noon() time.Time { return time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC) }

func testOrder() model.Order {
	return model.Order{ID: "o1", Pickup: &model.Location{Lat: 0, Lng: 3}, Delivery: &model.Location{Lat: 4, Lng: 3}, Weight: 2}
}

func TestNeutralDefaultsForBareWorker(t *testing.T) {
	w := bare{"w"}
	if _, ok := LocationOf(w); ok {
		t.Fatalf("bare worker has no location")
	}
	if _, ok := RemainingCapacityOf(w); ok {
		t.Fatalf("bare worker reports no capacity")
	}
	ok, err := AcceptWithTimeout(context.Background(), w, testOrder(), time.Second)
	if err != nil || !ok {
		t.Fatalf("bare worker should accept, got %v %v", ok, err)
	}
	if _, err := QuoteWithTimeout(context.Background(), w, testOrder(), time.Second); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("expected ErrNoQuote, got %v", err)
	}
	pinged, err := PingWithTimeout(context.Background(), w, time.Second)
	if pinged || err != nil {
		t.Fatalf("bare worker cannot be pinged")
	}
}

func TestQuoteTimeout(t *testing.T) {
	w := slowQuoter{bare{"slow"}, 200 * time.Millisecond}
	start := time.Now()
	_, err := QuoteWithTimeout(context.Background(), w, testOrder(), 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Fatalf("timeout not honoured")
	}
}

func TestQuoteRejectsNaN(t *testing.T) {
	if _, err := QuoteWithTimeout(context.Background(), nanQuoter{bare{"n"}}, testOrder(), time.Second); err == nil {
		t.Fatalf("expected error for NaN quote")
	}
}

func TestSimulatedQuote(t *testing.T) {
	s := NewSimulated(SimConfig{ID: "d1", Capacity: 20, Seed: 1}, WithSimClock(noon))
	// pickup distance 3, delivery distance 4, load 0, factors 1.0 at noon
	cost, err := s.QuoteCost(context.Background(), testOrder())
	require.NoError(t, err)
	assert.InDelta(t, 7.0, cost, 1e-9)

	rush := func() time.Time { return time.Date(2024, 5, 15, 8, 0, 0, 0, time.UTC) }
	s2 := NewSimulated(SimConfig{ID: "d2", Capacity: 20, Seed: 1}, WithSimClock(rush))
	cost, _ = s2.QuoteCost(context.Background(), testOrder())
	assert.InDelta(t, 7*1.3*1.4, cost, 1e-9)

	s3 := NewSimulated(SimConfig{ID: "d3", Seed: 1}, WithSimClock(noon),
		WithTraffic(prediction.StaticEngine{Default: 100}))
	cost, _ = s3.QuoteCost(context.Background(), testOrder())
	assert.InDelta(t, 7*1.5, cost, 1e-9)
}

func TestSimulatedAcceptRespectsCapacity(t *testing.T) {
	s := NewSimulated(SimConfig{ID: "d1", Capacity: 3, Seed: 1})
	ok, err := s.AcceptOrder(context.Background(), testOrder())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, s.RemainingCapacity())

	o := testOrder()
	o.ID = "o2"
	ok, _ = s.AcceptOrder(context.Background(), o)
	assert.False(t, ok)
}

func TestSimulatedOffline(t *testing.T) {
	s := NewSimulated(SimConfig{ID: "d1", Capacity: 10, Seed: 1})
	require.NoError(t, s.Ping(context.Background()))
	s.SetOffline(true)
	assert.ErrorIs(t, s.Ping(context.Background()), ErrWorkerDown)
	_, err := s.AcceptOrder(context.Background(), testOrder())
	assert.ErrorIs(t, err, ErrWorkerDown)
}

func TestSimulatedLearnsHourlyFactor(t *testing.T) {
	s := NewSimulated(SimConfig{ID: "d1", Capacity: 100, Seed: 1}, WithSimClock(noon))
	for i := 0; i < 10; i++ {
		o := testOrder()
		o.ID = string(rune('a' + i))
		_, err := s.QuoteCost(context.Background(), o)
		require.NoError(t, err)
		ok, _ := s.AcceptOrder(context.Background(), o)
		require.True(t, ok)
		s.Finish(o.ID, 55, 7)
	}
	assert.Equal(t, learnedMax, s.HourFactor(12))
	assert.Empty(t, s.Orders())
	assert.Equal(t, 100.0, s.RemainingCapacity())
	// quotes equal actual cost on the first order only, accuracy stays bounded
	assert.LessOrEqual(t, s.Accuracy(), 1.0)
}

func TestSimulatedDriveMovesWorker(t *testing.T) {
	s := NewSimulated(SimConfig{ID: "d1", Capacity: 10, Seed: 3})
	o := testOrder()
	ok, _ := s.AcceptOrder(context.Background(), o)
	require.True(t, ok)
	_, minutes, found := s.Drive(o.ID, 0)
	require.True(t, found)
	assert.Greater(t, minutes, 0.0)
	loc, _ := s.CurrentLocation()
	assert.Equal(t, *o.Delivery, loc)
	if _, _, found := s.Drive("missing", 0); found {
		t.Fatalf("unknown order must not be driven")
	}
}
