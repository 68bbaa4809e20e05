package config

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/worker"
)

// FleetConfig describes the simulated workers started by the run and
// simulate commands. Explicit workers come first, then Generate.Count
// generated ones.
type FleetConfig struct {
	Workers  []worker.SimConfig `json:"workers"`
	Generate GenerateConfig     `json:"generate"`
}

// GenerateConfig creates workers around Center.
type GenerateConfig struct {
	Count int   `json:"count"`
	Seed  int64 `json:"seed"`
	// Center and Spread bound the start positions.
	Center model.Location `json:"center"`
	Spread float64        `json:"spread"`
	// Types maps a worker type to its share of the generated fleet.
	Types       map[string]float64 `json:"types"`
	Capacity    float64            `json:"capacity"`
	DeclineRate float64            `json:"decline_rate"`
	FailureRate float64            `json:"failure_rate"`
}

var vehicleClasses = []string{"bike", "scooter", "van"}

func (c *FleetConfig) SetDefaults() {
	g := &c.Generate
	if g.Spread == 0 {
		g.Spread = 5
	}
	if len(g.Types) == 0 {
		g.Types = map[string]float64{"delivery": 1}
	}
	if g.Capacity == 0 {
		g.Capacity = 20
	}
}

func (c FleetConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Workers))
	for i, w := range c.Workers {
		if w.ID == "" {
			return fmt.Errorf("fleet.workers[%d]: id is required", i)
		}
		if _, dup := seen[w.ID]; dup {
			return fmt.Errorf("fleet.workers[%d]: duplicate id %s", i, w.ID)
		}
		seen[w.ID] = struct{}{}
		if w.Capacity < 0 {
			return fmt.Errorf("fleet.workers[%d]: capacity must not be negative", i)
		}
		if !isRate(w.DeclineRate) || !isRate(w.FailureRate) {
			return fmt.Errorf("fleet.workers[%d]: rates must be within [0,1]", i)
		}
	}
	g := c.Generate
	if g.Count < 0 {
		return fmt.Errorf("fleet.generate.count must not be negative")
	}
	if !isRate(g.DeclineRate) || !isRate(g.FailureRate) {
		return fmt.Errorf("fleet.generate rates must be within [0,1]")
	}
	for t, share := range g.Types {
		if share < 0 {
			return fmt.Errorf("fleet.generate.types[%s] must not be negative", t)
		}
	}
	return nil
}

func isRate(v float64) bool { return v >= 0 && v <= 1 }

// Build returns the worker configurations. Generated ids are w001, w002...
// skipping ids already used by explicit workers. The same seed yields the
// same fleet.
func (c FleetConfig) Build() []worker.SimConfig {
	out := append([]worker.SimConfig(nil), c.Workers...)
	used := make(map[string]struct{}, len(out))
	for _, w := range out {
		used[w.ID] = struct{}{}
	}
	g := c.Generate
	if g.Count == 0 {
		return out
	}
	rng := rand.New(rand.NewSource(g.Seed))
	types, total := sortedShares(g.Types)
	for i, n := 0, 1; i < g.Count; n++ {
		id := fmt.Sprintf("w%03d", n)
		if _, taken := used[id]; taken {
			continue
		}
		out = append(out, worker.SimConfig{
			ID:           id,
			Type:         pickType(rng, types, g.Types, total),
			VehicleClass: vehicleClasses[rng.Intn(len(vehicleClasses))],
			Capacity:     g.Capacity,
			Start: model.Location{
				Lat: g.Center.Lat + (rng.Float64()*2-1)*g.Spread,
				Lng: g.Center.Lng + (rng.Float64()*2-1)*g.Spread,
			},
			DeclineRate: g.DeclineRate,
			FailureRate: g.FailureRate,
			Seed:        g.Seed + int64(n),
		})
		i++
	}
	return out
}

func sortedShares(m map[string]float64) ([]string, float64) {
	keys := make([]string, 0, len(m))
	total := 0.0
	for k, v := range m {
		keys = append(keys, k)
		total += v
	}
	sort.Strings(keys)
	return keys, total
}

func pickType(rng *rand.Rand, keys []string, shares map[string]float64, total float64) string {
	if total <= 0 {
		return keys[0]
	}
	x := rng.Float64() * total
	for _, k := range keys {
		x -= shares[k]
		if x < 0 {
			return k
		}
	}
	return keys[len(keys)-1]
}
