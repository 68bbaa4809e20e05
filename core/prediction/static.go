package prediction

import "time"

// StaticEngine returns fixed levels per route. Unknown routes use Default.
type StaticEngine struct {
	Levels  map[string]float64
	Default float64
	Now     func() time.Time
}

func (s StaticEngine) level(route string) float64 {
	if v, ok := s.Levels[route]; ok {
		return clamp(v)
	}
	return clamp(s.Default)
}

// Predict implements TrafficEngine.
func (s StaticEngine) Predict(route string, _ time.Time) Prediction {
	lvl := s.level(route)
	return Prediction{Route: route, Level: lvl, Confidence: 1, Status: Classify(lvl), Seen: true}
}

// PredictAhead implements TrafficEngine.
func (s StaticEngine) PredictAhead(route string, hoursAhead int) Forecast {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	p := s.Predict(route, now)
	return Forecast{Prediction: p, At: now.Add(time.Duration(hoursAhead) * time.Hour), Recommendation: p.Status.Recommendation()}
}
