package prediction

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/kilianp07/optiroute/internal/ringbuf"
)

const (
	minutesPerUnit = 3.0
	ridge          = 1e-3
	sampleCap      = 1000
	numFeatures    = 5
)

// DeliverySample is one completed delivery used to fit the time model.
type DeliverySample struct {
	Distance float64 `json:"distance"`
	Weight   float64 `json:"weight"`
	Traffic  float64 `json:"traffic"`
	Urgency  int     `json:"urgency"`
	Minutes  float64 `json:"minutes"`
}

func (s DeliverySample) features() []float64 {
	return []float64{1, s.Distance, s.Weight, clamp(s.Traffic), float64(s.Urgency)}
}

// DeliveryTimeModel fits a ridge regularised least squares model of delivery
// minutes on distance, weight, traffic and urgency. Until enough samples are
// available it uses distance*3*(1+traffic/200).
type DeliveryTimeModel struct {
	minSamples int

	mu      sync.RWMutex
	samples *ringbuf.Ring[DeliverySample]
	coef    *mat.VecDense
}

// NewDeliveryTimeModel returns an untrained model.
func NewDeliveryTimeModel(minSamples int) *DeliveryTimeModel {
	if minSamples < numFeatures {
		minSamples = numFeatures
	}
	return &DeliveryTimeModel{minSamples: minSamples, samples: ringbuf.New[DeliverySample](sampleCap)}
}

// Add stores a sample and refits once the minimum sample count is reached.
func (m *DeliveryTimeModel) Add(s DeliverySample) error {
	if s.Minutes <= 0 || math.IsNaN(s.Minutes) {
		return fmt.Errorf("delivery sample: minutes must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples.Push(s)
	if m.samples.Len() < m.minSamples {
		return nil
	}
	return m.fitLocked()
}

func (m *DeliveryTimeModel) fitLocked() error {
	items := m.samples.Items()
	n := len(items)
	x := mat.NewDense(n, numFeatures, nil)
	y := mat.NewVecDense(n, nil)
	for i, s := range items {
		x.SetRow(i, s.features())
		y.SetVec(i, s.Minutes)
	}
	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	for i := 1; i < numFeatures; i++ {
		xtx.Set(i, i, xtx.At(i, i)+ridge)
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), y)
	var coef mat.VecDense
	if err := coef.SolveVec(&xtx, &xty); err != nil {
		m.coef = nil
		return fmt.Errorf("fit delivery time model: %w", err)
	}
	m.coef = &coef
	return nil
}

// Trained reports whether predictions come from the fitted model.
func (m *DeliveryTimeModel) Trained() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coef != nil
}

// Samples returns the number of stored samples.
func (m *DeliveryTimeModel) Samples() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.samples.Len()
}

// Predict estimates delivery minutes. The result is at least one minute.
func (m *DeliveryTimeModel) Predict(distance, weight, traffic float64, urgency int) float64 {
	m.mu.RLock()
	coef := m.coef
	m.mu.RUnlock()
	if coef == nil {
		return FormulaMinutes(distance, traffic)
	}
	f := DeliverySample{Distance: distance, Weight: weight, Traffic: traffic, Urgency: urgency}.features()
	v := mat.Dot(coef, mat.NewVecDense(numFeatures, f))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return FormulaMinutes(distance, traffic)
	}
	return math.Max(1, v)
}

// FormulaMinutes is the untrained estimate distance*3*(1+traffic/200).
func FormulaMinutes(distance, traffic float64) float64 {
	return math.Max(1, distance*minutesPerUnit*TrafficFactor(traffic))
}

// InferLevel inverts FormulaMinutes to estimate the traffic level a delivery
// experienced. ok is false when the distance is too small to tell.
func InferLevel(distance, minutes float64) (level float64, ok bool) {
	base := distance * minutesPerUnit
	if base <= 0 || minutes <= 0 {
		return 0, false
	}
	return clamp((minutes/base - 1) * 200), true
}

// EstimateCost returns (5 + distance*2 + weight) scaled by urgency and traffic.
func EstimateCost(distance, weight float64, urgency int, traffic float64) float64 {
	if urgency < 1 {
		urgency = 1
	}
	base := 5 + distance*2 + weight
	urgencyFactor := 1 + float64(urgency-1)*0.2
	return base * urgencyFactor * TrafficFactor(traffic)
}
