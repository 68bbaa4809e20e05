package prediction

import "math"

// Status is the qualitative traffic class of a level.
type Status string

const (
	StatusClear    Status = "clear"
	StatusModerate Status = "moderate"
	StatusHeavy    Status = "heavy"
	StatusSevere   Status = "severe"
)

// Default levels for keys without observations.
const (
	RushHourLevel = 70.0
	NightLevel    = 20.0
	DaytimeLevel  = 40.0
)

// Classify maps a level in [0,100] to a Status.
func Classify(level float64) Status {
	switch {
	case level < 30:
		return StatusClear
	case level < 60:
		return StatusModerate
	case level < 80:
		return StatusHeavy
	default:
		return StatusSevere
	}
}

// Recommendation returns the advice associated with a status.
func (s Status) Recommendation() string {
	switch s {
	case StatusClear:
		return "Optimal time for delivery"
	case StatusHeavy:
		return "Consider alternative routes"
	case StatusSevere:
		return "Avoid this route, seek alternatives immediately"
	default:
		return "Monitor conditions"
	}
}

// IsRushHour reports whether hour falls in the 7-9 or 17-19 windows.
func IsRushHour(hour int) bool {
	return (hour >= 7 && hour <= 9) || (hour >= 17 && hour <= 19)
}

// IsNight reports whether hour falls in the 22-6 window.
func IsNight(hour int) bool {
	return hour >= 22 || hour <= 6
}

// DefaultLevel is the rule based level used for unseen keys.
func DefaultLevel(hour int) float64 {
	switch {
	case IsRushHour(hour):
		return RushHourLevel
	case IsNight(hour):
		return NightLevel
	default:
		return DaytimeLevel
	}
}

// ConfidenceFor maps the number of stored observations of a route to a
// confidence. A negative count means the route was never observed.
func ConfidenceFor(samples int) float64 {
	switch {
	case samples < 0:
		return 0.3
	case samples < 10:
		return 0.4
	case samples < 50:
		return 0.6
	case samples < 100:
		return 0.8
	default:
		return 0.95
	}
}

// EstimatedDelay returns the expected extra minutes caused by level.
func EstimatedDelay(level float64) float64 { return clamp(level) * 0.5 }

// TrafficFactor scales durations and costs by 1 + level/200.
func TrafficFactor(level float64) float64 { return 1 + clamp(level)/200 }

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
