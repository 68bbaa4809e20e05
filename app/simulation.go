package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/kilianp07/optiroute/core/dispatch"
	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/performance"
	"github.com/kilianp07/optiroute/core/prediction"
	"github.com/kilianp07/optiroute/core/worker"
)

// SimulationConfig drives Simulate.
type SimulationConfig struct {
	Orders int
	Seed   int64
	// KnockoutEvery takes a loaded worker offline after that many orders.
	// Zero never does.
	KnockoutEvery int
	// TickEvery refreshes the traffic monitor after that many orders.
	TickEvery int
	// MaxWeight bounds the random order weight.
	MaxWeight float64
}

func (c *SimulationConfig) setDefaults() {
	if c.Orders <= 0 {
		c.Orders = 50
	}
	if c.TickEvery <= 0 {
		c.TickEvery = 10
	}
	if c.MaxWeight <= 0 {
		c.MaxWeight = 8
	}
}

// Summary is the outcome of a simulation.
type Summary struct {
	Submitted     int                 `json:"submitted"`
	Queued        int                 `json:"queued"`
	Completed     int                 `json:"completed"`
	Failed        int                 `json:"failed"`
	Redistributed int                 `json:"redistributed"`
	Knockouts     []string            `json:"knockouts,omitempty"`
	Pending       int                 `json:"pending"`
	AvgMinutes    float64             `json:"avg_minutes"`
	Performance   []performance.Entry `json:"performance"`
}

// Simulate submits random orders to the simulated fleet and drives every
// accepted order to completion or failure. StartFleet must have been called.
func (s *Service) Simulate(ctx context.Context, sc SimulationConfig) (Summary, error) {
	sc.setDefaults()
	if len(s.Fleet) == 0 {
		return Summary{}, fmt.Errorf("no simulated workers registered")
	}
	byID := make(map[string]*worker.Simulated, len(s.Fleet))
	for _, w := range s.Fleet {
		byID[w.ID()] = w
	}
	rng := rand.New(rand.NewSource(sc.Seed))
	var sum Summary
	var minutes float64
	routes := s.cfg.Traffic.Routes

	for i := 1; i <= sc.Orders; i++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if (i-1)%sc.TickEvery == 0 {
			if _, err := s.Monitor.Tick(ctx); err != nil {
				s.log.Warnf("traffic tick: %v", err)
			}
		}
		order := s.randomOrder(rng, i, routes, sc.MaxWeight)
		sum.Submitted++
		if _, err := s.Coordinator.Submit(ctx, order); err != nil {
			if !dispatch.IsRecoverable(err) {
				return sum, err
			}
			sum.Queued++
		}
		if sc.KnockoutEvery > 0 && i%sc.KnockoutEvery == 0 {
			if id, moved, ok := s.knockout(ctx, rng); ok {
				sum.Knockouts = append(sum.Knockouts, id)
				sum.Redistributed += moved
			}
		}
		if rng.Intn(3) == 0 {
			c, f, m := s.drain(ctx, byID, 1)
			sum.Completed, sum.Failed, minutes = sum.Completed+c, sum.Failed+f, minutes+m
		}
	}
	if _, err := s.Coordinator.RetryPending(ctx); err != nil {
		s.log.Debugf("final retry: %v", err)
	}
	c, f, m := s.drain(ctx, byID, 5)
	sum.Completed, sum.Failed, minutes = sum.Completed+c, sum.Failed+f, minutes+m
	if sum.Completed > 0 {
		sum.AvgMinutes = minutes / float64(sum.Completed)
	}
	sum.Pending = len(s.Coordinator.Pending())
	sum.Performance = s.Coordinator.Status().Performance
	return sum, nil
}

func (s *Service) randomOrder(rng *rand.Rand, n int, routes []string, maxWeight float64) model.Order {
	g := s.cfg.Fleet.Generate
	point := func() *model.Location {
		return &model.Location{
			Lat: g.Center.Lat + (rng.Float64()*2-1)*g.Spread,
			Lng: g.Center.Lng + (rng.Float64()*2-1)*g.Spread,
		}
	}
	o := model.Order{
		ID:        fmt.Sprintf("sim-%04d", n),
		Pickup:    point(),
		Delivery:  point(),
		Weight:    1 + rng.Float64()*(maxWeight-1),
		Urgency:   1 + rng.Intn(5),
		CreatedAt: s.now(),
	}
	if len(routes) > 0 {
		o.Route = routes[rng.Intn(len(routes))]
	}
	return o
}

// knockout takes a random loaded worker offline, marks it unresponsive and
// redistributes its orders.
func (s *Service) knockout(ctx context.Context, rng *rand.Rand) (string, int, bool) {
	var loaded []*worker.Simulated
	for _, w := range s.Fleet {
		if len(w.Orders()) > 0 {
			loaded = append(loaded, w)
		}
	}
	if len(loaded) == 0 {
		return "", 0, false
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].ID() < loaded[j].ID() })
	w := loaded[rng.Intn(len(loaded))]
	w.SetOffline(true)
	s.Coordinator.Registry().MarkUnresponsive(w.ID())
	rep, err := s.Coordinator.Redistribute(ctx, w.ID())
	if err != nil {
		s.log.Warnf("knockout %s: %v", w.ID(), err)
	}
	for _, id := range w.Orders() {
		w.Finish(id, 0, 0)
	}
	return w.ID(), len(rep.Reassigned), true
}

// drain delivers the orders carried by online workers, up to rounds passes.
// Failed deliveries are reassigned by the coordinator and picked up by the
// next pass.
func (s *Service) drain(ctx context.Context, fleet map[string]*worker.Simulated, rounds int) (completed, failed int, minutes float64) {
	ids := make([]string, 0, len(fleet))
	for id := range fleet {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for r := 0; r < rounds; r++ {
		progress := false
		for _, id := range ids {
			w := fleet[id]
			orders := w.Orders()
			sort.Strings(orders)
			for _, oid := range orders {
				if ctx.Err() != nil {
					return
				}
				ok, m, done := s.deliver(ctx, w, oid)
				if !done {
					continue
				}
				progress = true
				if ok {
					completed++
					minutes += m
				} else {
					failed++
				}
			}
		}
		if !progress {
			return
		}
	}
	return
}

func (s *Service) deliver(ctx context.Context, w *worker.Simulated, orderID string) (success bool, minutes float64, done bool) {
	order, known := s.Coordinator.Order(orderID)
	if !known {
		w.Finish(orderID, 0, 0)
		return false, 0, false
	}
	level := s.Predictor.Current(order.RouteID()).Level
	success, minutes, found := w.Drive(orderID, level)
	if !found {
		return false, 0, false
	}
	if success {
		w.Finish(orderID, minutes, prediction.EstimateCost(order.Distance(), order.Weight, order.UrgencyLevel(), level))
		if _, err := s.Coordinator.Complete(ctx, orderID, minutes); err != nil {
			s.log.Warnf("complete %s: %v", orderID, err)
		}
		return true, minutes, true
	}
	w.Finish(orderID, minutes, 0)
	if _, err := s.Coordinator.Fail(ctx, orderID); err != nil && !dispatch.IsRecoverable(err) && !errors.Is(err, dispatch.ErrUnknownOrder) {
		s.log.Warnf("fail %s: %v", orderID, err)
	}
	return false, minutes, true
}
