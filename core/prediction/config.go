package prediction

import "fmt"

// Config holds the traffic learning parameters.
type Config struct {
	// LearningRate is the EMA weight given to a new observation.
	LearningRate float64 `json:"learning_rate"`
	// HistorySize bounds the per-route observation history.
	HistorySize int `json:"history_size"`
	// ModelMinSamples is the number of deliveries required before the
	// delivery time regression replaces the formula.
	ModelMinSamples int `json:"model_min_samples"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.LearningRate == 0 {
		c.LearningRate = 0.1
	}
	if c.HistorySize == 0 {
		c.HistorySize = 500
	}
	if c.ModelMinSamples == 0 {
		c.ModelMinSamples = 10
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("prediction.learning_rate must be in (0,1], got %v", c.LearningRate)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("prediction.history_size must be positive")
	}
	if c.ModelMinSamples < 1 {
		return fmt.Errorf("prediction.model_min_samples must be positive")
	}
	return nil
}
