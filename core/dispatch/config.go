package dispatch

import (
	"fmt"
	"math"
	"time"
)

// Weights balance the sub-scores of a candidate.
type Weights struct {
	Distance    float64 `json:"distance"`
	Capacity    float64 `json:"capacity"`
	Performance float64 `json:"performance"`
	Load        float64 `json:"load"`
}

// DefaultWeights favours proximity, then free capacity.
func DefaultWeights() Weights {
	return Weights{Distance: 0.4, Capacity: 0.3, Performance: 0.2, Load: 0.1}
}

func (w Weights) sum() float64 { return w.Distance + w.Capacity + w.Performance + w.Load }

// Validate checks that every weight is non negative and that at least one is
// positive.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"distance": w.Distance, "capacity": w.Capacity, "performance": w.Performance, "load": w.Load,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("weight %s must be a finite value >= 0, got %v", name, v)
		}
	}
	if w.sum() <= 0 {
		return fmt.Errorf("weights must sum to a positive value")
	}
	return nil
}

// Config defines allocation settings.
type Config struct {
	Weights         Weights `json:"weights"`
	DistanceDecay   float64 `json:"distance_decay"`
	AcceptTimeoutMS int     `json:"accept_timeout_ms"`
	HistorySize     int     `json:"history_size"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
	if c.DistanceDecay <= 0 {
		c.DistanceDecay = 10
	}
	if c.AcceptTimeoutMS <= 0 {
		c.AcceptTimeoutMS = 2000
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 500
	}
}

// Validate reports invalid settings.
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.DistanceDecay < 0 {
		return fmt.Errorf("distance_decay must be >= 0")
	}
	if c.AcceptTimeoutMS < 0 {
		return fmt.Errorf("accept_timeout_ms must be >= 0")
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("history_size must be >= 0")
	}
	return nil
}

// AcceptTimeout returns the bound on a worker's accept decision.
func (c Config) AcceptTimeout() time.Duration {
	return time.Duration(c.AcceptTimeoutMS) * time.Millisecond
}
