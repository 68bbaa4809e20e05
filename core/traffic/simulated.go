package traffic

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/kilianp07/optiroute/core/prediction"
)

// SimulatedSource generates plausible readings: the rule based level of the
// current hour plus a per-route bias and uniform jitter.
type SimulatedSource struct {
	// Jitter is the half width of the noise band.
	Jitter float64
	// Bias shifts the level of specific routes.
	Bias map[string]float64

	now func() time.Time
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedSource seeds the generator; seed 0 uses the current time.
func NewSimulatedSource(seed int64, jitter float64, now func() time.Time) *SimulatedSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if now == nil {
		now = time.Now
	}
	return &SimulatedSource{Jitter: jitter, now: now, rng: rand.New(rand.NewSource(seed))}
}

// Sample implements Source.
func (s *SimulatedSource) Sample(ctx context.Context, route string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	base := prediction.DefaultLevel(s.now().Hour()) + s.Bias[route]
	s.mu.Lock()
	noise := (s.rng.Float64()*2 - 1) * s.Jitter
	s.mu.Unlock()
	return math.Max(0, math.Min(100, base+noise)), nil
}

// StaticSource returns fixed levels. Routes without a level yield
// ErrNoReading.
type StaticSource map[string]float64

func (s StaticSource) Sample(_ context.Context, route string) (float64, error) {
	v, ok := s[route]
	if !ok {
		return 0, ErrNoReading
	}
	return v, nil
}
