package dispatch

import (
	"math"

	"github.com/kilianp07/optiroute/core/model"
)

// Neutral sub-scores used when a worker does not expose the input.
const (
	NeutralDistance = 50.0
	NeutralCapacity = 75.0
	NeutralLoad     = 75.0
)

// Breakdown is a candidate score with its components.
type Breakdown struct {
	Distance    float64 `json:"distance"`
	Capacity    float64 `json:"capacity"`
	Performance float64 `json:"performance"`
	Load        float64 `json:"load"`
	Total       float64 `json:"total"`
}

// Scorer computes the suitability of a worker for an order.
type Scorer struct {
	Weights Weights
	Decay   float64
}

// Score rates p for order given the worker's performance score.
func (s Scorer) Score(p model.WorkerProfile, order model.Order, performance float64) Breakdown {
	b := Breakdown{
		Distance:    NeutralDistance,
		Capacity:    NeutralCapacity,
		Performance: performance,
		Load:        NeutralLoad,
	}
	if p.Location != nil && order.Pickup != nil {
		b.Distance = math.Max(0, 100-p.Location.Distance(*order.Pickup)*s.Decay)
	}
	if p.Capacity > 0 {
		b.Capacity = (p.Capacity - p.Load) / p.Capacity * 100
		b.Load = (1 - p.Load/p.Capacity) * 100
	}
	b.Total = b.Distance*s.Weights.Distance +
		b.Capacity*s.Weights.Capacity +
		b.Performance*s.Weights.Performance +
		b.Load*s.Weights.Load
	return b
}
