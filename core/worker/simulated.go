package worker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/prediction"
)

// ErrWorkerDown is returned by a simulated worker that was taken offline.
var ErrWorkerDown = errors.New("worker offline")

const (
	learnedMax  = 1.5
	learnedMin  = 0.7
	slowMinutes = 40.0
	fastMinutes = 20.0
)

// SimConfig describes a simulated delivery worker.
type SimConfig struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	VehicleClass string         `json:"vehicle_class"`
	Capacity     float64        `json:"capacity"`
	Start        model.Location `json:"start"`
	// AcceptDelayMS delays every AcceptOrder answer.
	AcceptDelayMS int `json:"accept_delay_ms"`
	// DeclineRate is the probability of refusing an order.
	DeclineRate float64 `json:"decline_rate"`
	// FailureRate is the probability that a delivery fails.
	FailureRate float64 `json:"failure_rate"`
	Seed        int64   `json:"seed"`
}

// Simulated is an in-process delivery worker. It prices orders from its
// position, load, time of day and traffic, and adjusts its hourly cost
// factors from delivery feedback.
type Simulated struct {
	cfg     SimConfig
	traffic prediction.TrafficEngine
	now     func() time.Time

	mu        sync.Mutex
	rng       *rand.Rand
	loc       model.Location
	load      float64
	orders    map[string]model.Order
	predicted map[string]float64
	learned   map[int]float64
	accuracy  float64
	offline   bool
}

// SimOption customises a Simulated worker.
type SimOption func(*Simulated)

// WithTraffic makes quotes use predicted route levels.
func WithTraffic(t prediction.TrafficEngine) SimOption {
	return func(s *Simulated) { s.traffic = t }
}

// WithSimClock overrides time.Now.
func WithSimClock(now func() time.Time) SimOption {
	return func(s *Simulated) { s.now = now }
}

// NewSimulated returns a simulated worker parked at cfg.Start.
func NewSimulated(cfg SimConfig, opts ...SimOption) *Simulated {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Simulated{
		cfg:       cfg,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(seed)),
		loc:       cfg.Start,
		orders:    make(map[string]model.Order),
		predicted: make(map[string]float64),
		learned:   make(map[int]float64),
		accuracy:  0.8,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Simulated) ID() string { return s.cfg.ID }

// Profile returns the registration view of the worker.
func (s *Simulated) Profile() model.WorkerProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := s.loc
	return model.WorkerProfile{
		ID:           s.cfg.ID,
		Type:         s.cfg.Type,
		VehicleClass: s.cfg.VehicleClass,
		Capacity:     s.cfg.Capacity,
		Load:         s.load,
		Location:     &loc,
	}
}

// CurrentLocation implements Locator.
func (s *Simulated) CurrentLocation() (model.Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc, true
}

// RemainingCapacity implements CapacityReporter.
func (s *Simulated) RemainingCapacity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return math.Max(0, s.cfg.Capacity-s.load)
}

// QuoteCost implements CostQuoter.
func (s *Simulated) QuoteCost(ctx context.Context, order model.Order) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return 0, ErrWorkerDown
	}
	cost := s.quoteLocked(order)
	s.predicted[order.ID] = cost
	return cost, nil
}

func (s *Simulated) quoteLocked(order model.Order) float64 {
	base := s.load * 0.1
	if order.Pickup != nil {
		base += s.loc.Distance(*order.Pickup)
	}
	base += order.Distance()
	now := s.now()
	return base * s.timeFactorLocked(now.Hour()) * s.trafficFactor(order, now)
}

func (s *Simulated) timeFactorLocked(hour int) float64 {
	if f, ok := s.learned[hour]; ok {
		return f
	}
	switch {
	case prediction.IsRushHour(hour):
		return 1.3
	case prediction.IsNight(hour):
		return 0.8
	}
	return 1.0
}

func (s *Simulated) trafficFactor(order model.Order, now time.Time) float64 {
	if s.traffic != nil {
		return prediction.TrafficFactor(s.traffic.Predict(order.RouteID(), now).Level)
	}
	switch h := now.Hour(); {
	case prediction.IsRushHour(h):
		return 1.4
	case prediction.IsNight(h):
		return 0.9
	}
	return 1.0
}

// AcceptOrder implements OrderAcceptor. The worker declines when it is full
// or when the configured decline roll says so.
func (s *Simulated) AcceptOrder(ctx context.Context, order model.Order) (bool, error) {
	if d := time.Duration(s.cfg.AcceptDelayMS) * time.Millisecond; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return false, ErrWorkerDown
	}
	if s.cfg.Capacity > 0 && s.load+order.Weight > s.cfg.Capacity {
		return false, nil
	}
	if s.cfg.DeclineRate > 0 && s.rng.Float64() < s.cfg.DeclineRate {
		return false, nil
	}
	s.orders[order.ID] = order
	s.load += order.Weight
	return true, nil
}

// Ping implements Pinger.
func (s *Simulated) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return ErrWorkerDown
	}
	return nil
}

// SetOffline toggles the worker availability.
func (s *Simulated) SetOffline(off bool) {
	s.mu.Lock()
	s.offline = off
	s.mu.Unlock()
}

// Orders returns the ids of the orders currently carried.
func (s *Simulated) Orders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.orders))
	for id := range s.orders {
		out = append(out, id)
	}
	return out
}

// Drive simulates the delivery of an order and reports whether it succeeded
// and how many minutes it took. The worker ends at the delivery location.
func (s *Simulated) Drive(orderID string, traffic float64) (success bool, minutes float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return false, 0, false
	}
	dist := order.Distance()
	if order.Pickup != nil {
		dist += s.loc.Distance(*order.Pickup)
	}
	minutes = prediction.FormulaMinutes(dist, traffic) * (0.8 + 0.4*s.rng.Float64())
	success = s.rng.Float64() >= s.cfg.FailureRate
	if order.Delivery != nil {
		s.loc = *order.Delivery
	}
	return success, minutes, true
}

// Finish releases the order and learns from its actual duration and cost.
// A zero actualCost skips the accuracy update.
func (s *Simulated) Finish(orderID string, minutes, actualCost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return
	}
	delete(s.orders, orderID)
	s.load = math.Max(0, s.load-order.Weight)

	if pred, ok := s.predicted[orderID]; ok && actualCost > 0 {
		errRatio := math.Abs(actualCost-pred) / actualCost
		s.accuracy = 0.9*s.accuracy + 0.1*(1-errRatio)
	}
	delete(s.predicted, orderID)

	hour := s.now().Hour()
	f, ok := s.learned[hour]
	if !ok {
		f = 1.0
	}
	switch {
	case minutes > slowMinutes:
		f = math.Min(learnedMax, f*1.1)
	case minutes < fastMinutes:
		f = math.Max(learnedMin, f*0.9)
	}
	s.learned[hour] = f
}

// Accuracy returns the moving average of cost prediction accuracy.
func (s *Simulated) Accuracy() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accuracy
}

// HourFactor returns the cost factor currently used for hour.
func (s *Simulated) HourFactor(hour int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeFactorLocked(hour)
}
