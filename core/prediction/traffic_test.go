package prediction

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/optiroute/core/model"
)

// Wednesday.
var base = time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)

func at(hour int) time.Time { return base.Add(time.Duration(hour) * time.Hour) }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestDefaultLevels(t *testing.T) {
	p := NewPredictor(Config{})
	tests := []struct {
		hour int
		want float64
	}{
		{7, 70}, {9, 70}, {17, 70}, {19, 70},
		{22, 20}, {3, 20}, {6, 20},
		{10, 40}, {12, 40}, {20, 40}, {21, 40},
	}
	for _, tt := range tests {
		pr := p.Predict("r1", at(tt.hour))
		if pr.Level != tt.want {
			t.Errorf("hour %d: level %v want %v", tt.hour, pr.Level, tt.want)
		}
		if pr.Seen {
			t.Errorf("hour %d: should not be seen", tt.hour)
		}
		if pr.Confidence != 0.3 {
			t.Errorf("unseen route confidence %v", pr.Confidence)
		}
	}
}

func TestFirstObservationSeeds(t *testing.T) {
	p := NewPredictor(Config{})
	pr := p.Observe("r1", at(12), 90)
	assert.Equal(t, 90.0, pr.Level)
	assert.True(t, pr.Seen)
	assert.Equal(t, 1, pr.Samples)

	pr = p.Observe("r1", at(12), 50)
	assert.InDelta(t, 86.0, pr.Level, 1e-9)
}

func TestEMAConvergesMonotonically(t *testing.T) {
	p := NewPredictor(Config{LearningRate: 0.1})
	p.Observe("r1", at(12), 40)
	prev := 40.0
	for i := 0; i < 100; i++ {
		lvl := p.Observe("r1", at(12), 80).Level
		if lvl <= prev || lvl > 80 {
			t.Fatalf("iteration %d: level %v not increasing toward 80 (prev %v)", i, lvl, prev)
		}
		prev = lvl
	}
	// 40*(0.9^100) is well below 0.01
	if math.Abs(prev-80) > 0.01 {
		t.Fatalf("did not converge: %v", prev)
	}
}

func TestKeySeparation(t *testing.T) {
	p := NewPredictor(Config{})
	p.Observe("r1", at(12), 90)
	if lvl := p.Predict("r1", at(13)).Level; lvl != 40 {
		t.Fatalf("different hour must use default, got %v", lvl)
	}
	if lvl := p.Predict("r1", at(12).Add(24*time.Hour)).Level; lvl != 40 {
		t.Fatalf("different weekday must use default, got %v", lvl)
	}
	if lvl := p.Predict("r1", at(12).Add(7*24*time.Hour)).Level; lvl != 90 {
		t.Fatalf("same slot next week should be learned, got %v", lvl)
	}
}

func TestLevelsClamped(t *testing.T) {
	p := NewPredictor(Config{})
	if lvl := p.Observe("r", at(12), 250).Level; lvl != 100 {
		t.Fatalf("expected clamp to 100, got %v", lvl)
	}
	if lvl := p.Observe("r2", at(12), -10).Level; lvl != 0 {
		t.Fatalf("expected clamp to 0, got %v", lvl)
	}
}

func TestConfidenceNonDecreasing(t *testing.T) {
	p := NewPredictor(Config{HistorySize: 500})
	prev := p.Confidence("r1")
	assert.Equal(t, 0.3, prev)
	for i := 0; i < 600; i++ {
		p.Observe("r1", at(i%24), 50)
		c := p.Confidence("r1")
		if c < prev {
			t.Fatalf("confidence decreased at %d: %v < %v", i, c, prev)
		}
		prev = c
	}
	assert.Equal(t, 0.95, prev)
	assert.Len(t, p.History("r1"), 500)
}

func TestConfidenceSteps(t *testing.T) {
	for n, want := range map[int]float64{-1: 0.3, 0: 0.4, 9: 0.4, 10: 0.6, 49: 0.6, 50: 0.8, 99: 0.8, 100: 0.95} {
		if got := ConfidenceFor(n); got != want {
			t.Errorf("samples %d: got %v want %v", n, got, want)
		}
	}
}

func TestClassifyAndRecommendation(t *testing.T) {
	tests := []struct {
		level float64
		want  Status
	}{{0, StatusClear}, {29.9, StatusClear}, {30, StatusModerate}, {59, StatusModerate}, {60, StatusHeavy}, {79, StatusHeavy}, {80, StatusSevere}, {100, StatusSevere}}
	for _, tt := range tests {
		if got := Classify(tt.level); got != tt.want {
			t.Errorf("level %v: got %s want %s", tt.level, got, tt.want)
		}
	}
	assert.Equal(t, "Optimal time for delivery", StatusClear.Recommendation())
	assert.Equal(t, "Monitor conditions", StatusModerate.Recommendation())
	assert.Equal(t, "Consider alternative routes", StatusHeavy.Recommendation())
	assert.Equal(t, "Avoid this route, seek alternatives immediately", StatusSevere.Recommendation())
}

func TestPredictAhead(t *testing.T) {
	p := NewPredictor(Config{}, WithClock(fixedClock(at(15))))
	p.Observe("r1", at(16), 85)
	f := p.PredictAhead("r1", 1)
	assert.Equal(t, at(16), f.At)
	assert.Equal(t, 85.0, f.Level)
	assert.Equal(t, StatusSevere, f.Status)
	assert.Equal(t, StatusSevere.Recommendation(), f.Recommendation)
}

func TestReactiveAlert(t *testing.T) {
	p := NewPredictor(Config{}, WithClock(fixedClock(at(12))))
	p.Observe("busy", at(12), 65)
	a, ok := p.Evaluate("busy")
	require.True(t, ok)
	assert.Equal(t, AlertReactive, a.Kind)
	assert.Equal(t, model.MsgTrafficAlert, a.MessageType())
	assert.Equal(t, "Consider alternative routes", a.Recommendation)
	assert.InDelta(t, 32.5, a.EstimatedDelay, 1e-9)
}

func TestPredictiveAlert(t *testing.T) {
	// 16:00 is daytime (40) while 17:00 is rush hour (70 by default).
	p := NewPredictor(Config{}, WithClock(fixedClock(at(16))))
	if _, ok := p.Evaluate("r1"); ok {
		t.Fatalf("default rush level 70 is not above the predictive threshold")
	}
	p.Observe("r1", at(17), 75)
	a, ok := p.Evaluate("r1")
	require.True(t, ok)
	assert.Equal(t, AlertPredictive, a.Kind)
	assert.Equal(t, model.MsgPredictiveAlert, a.MessageType())
	assert.Equal(t, 75.0, a.Payload()["predicted_level"])

	p.Observe("r1", at(16), 55)
	if _, ok := p.Evaluate("r1"); ok {
		t.Fatalf("current level 55 is neither reactive nor below the predictive ceiling")
	}
}

func TestAlertsPreserveOrder(t *testing.T) {
	p := NewPredictor(Config{}, WithClock(fixedClock(at(12))))
	p.Observe("b", at(12), 90)
	p.Observe("a", at(12), 10)
	p.Observe("c", at(12), 70)
	alerts := p.Alerts([]string{"a", "b", "c"})
	require.Len(t, alerts, 2)
	assert.Equal(t, "b", alerts[0].Route)
	assert.Equal(t, "c", alerts[1].Route)
}

func TestReportIncident(t *testing.T) {
	p := NewPredictor(Config{}, WithClock(fixedClock(at(12))))
	pr := p.ReportIncident("r1")
	assert.Equal(t, 70.0, pr.Level)
	p.ReportIncident("r1")
	pr = p.ReportIncident("r1")
	assert.Equal(t, 100.0, pr.Level)
}

func TestSuggestDeparture(t *testing.T) {
	p := NewPredictor(Config{}, WithClock(fixedClock(at(16))))
	// 16 -> 40, 17..19 -> 70, 20..21 -> 40, 22 -> 20
	d := p.SuggestDeparture("r1")
	assert.Equal(t, 6, d.HoursAhead)
	assert.Equal(t, 20.0, d.Level)
	assert.Equal(t, at(22), d.At)
	assert.Contains(t, d.Reason, "20%")

	p.Observe("r1", at(16), 10)
	d = p.SuggestDeparture("r1")
	assert.Equal(t, 0, d.HoursAhead)
}

func TestConcurrentObserveAndPredict(t *testing.T) {
	p := NewPredictor(Config{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		route := []string{"a", "b"}[i%2]
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				p.Observe(route, at(12), 60)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				lvl := p.Predict(route, at(12)).Level
				if lvl < 0 || lvl > 100 {
					t.Errorf("level out of range: %v", lvl)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"a", "b"}, p.Routes())
	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 800, snap[0].Samples)
}
