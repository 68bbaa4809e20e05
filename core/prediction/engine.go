package prediction

import "time"

// TrafficEngine is the read side of the predictor consumed by allocation and
// cost estimation.
type TrafficEngine interface {
	// Predict returns the expected level for route at t.
	Predict(route string, t time.Time) Prediction
	// PredictAhead forecasts the level hoursAhead from now.
	PredictAhead(route string, hoursAhead int) Forecast
}

var _ TrafficEngine = (*Predictor)(nil)
var _ TrafficEngine = StaticEngine{}
