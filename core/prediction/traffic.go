package prediction

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/optiroute/core/logger"
	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/internal/ringbuf"
)

const (
	incidentBump        = 30.0
	reactiveThreshold   = 60.0
	predictiveThreshold = 70.0
	predictiveCeiling   = 50.0
	departureHorizon    = 6
)

// Observation is one measured traffic level.
type Observation struct {
	Route string    `json:"route"`
	At    time.Time `json:"at"`
	Level float64   `json:"level"`
}

// Prediction is the expected level of a route at a point in time.
type Prediction struct {
	Route      string  `json:"route"`
	Level      float64 `json:"level"`
	Confidence float64 `json:"confidence"`
	Status     Status  `json:"status"`
	Samples    int     `json:"samples"`
	// Seen is false when the level comes from the default rules.
	Seen bool `json:"seen"`
}

// Forecast is a prediction for a future time with advice attached.
type Forecast struct {
	Prediction
	At             time.Time `json:"at"`
	Recommendation string    `json:"recommendation"`
}

type slot struct {
	hour    int
	weekday time.Weekday
}

type entry struct {
	level   float64
	samples int
}

type routeState struct {
	mu      sync.RWMutex
	table   map[slot]*entry
	history *ringbuf.Ring[Observation]
}

// Predictor learns traffic levels per (route, hour, weekday).
type Predictor struct {
	cfg Config
	log logger.Logger
	now func() time.Time

	mu     sync.RWMutex
	routes map[string]*routeState
}

// Option customises a Predictor.
type Option func(*Predictor)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(p *Predictor) { p.now = now } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(p *Predictor) { p.log = logger.OrNop(l) } }

// NewPredictor returns an empty predictor. Zero config fields get defaults.
func NewPredictor(cfg Config, opts ...Option) *Predictor {
	cfg.SetDefaults()
	p := &Predictor{cfg: cfg, log: logger.NopLogger{}, now: time.Now, routes: make(map[string]*routeState)}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Predictor) route(id string, create bool) *routeState {
	p.mu.RLock()
	rs := p.routes[id]
	p.mu.RUnlock()
	if rs != nil || !create {
		return rs
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if rs = p.routes[id]; rs == nil {
		rs = &routeState{table: make(map[slot]*entry), history: ringbuf.New[Observation](p.cfg.HistorySize)}
		p.routes[id] = rs
	}
	return rs
}

func slotOf(t time.Time) slot { return slot{hour: t.Hour(), weekday: t.Weekday()} }

// Observe folds a measured level into the table. The first observation of a
// key seeds it directly; later ones are blended with the learning rate.
func (p *Predictor) Observe(route string, at time.Time, level float64) Prediction {
	level = clamp(level)
	rs := p.route(route, true)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	k := slotOf(at)
	e, ok := rs.table[k]
	if !ok {
		e = &entry{level: level}
		rs.table[k] = e
	} else {
		a := p.cfg.LearningRate
		e.level = clamp((1-a)*e.level + a*level)
	}
	e.samples++
	rs.history.Push(Observation{Route: route, At: at, Level: level})
	p.log.Debugw("traffic observed", map[string]any{"route": route, "observed": level, "level": e.level, "samples": e.samples})
	return p.predictionLocked(route, rs, k)
}

func (p *Predictor) predictionLocked(route string, rs *routeState, k slot) Prediction {
	pr := Prediction{Route: route, Level: DefaultLevel(k.hour), Confidence: ConfidenceFor(rs.history.Len())}
	if e, ok := rs.table[k]; ok {
		pr.Level = e.level
		pr.Samples = e.samples
		pr.Seen = true
	}
	pr.Status = Classify(pr.Level)
	return pr
}

// Predict returns the expected level of route at t.
func (p *Predictor) Predict(route string, t time.Time) Prediction {
	rs := p.route(route, false)
	if rs == nil {
		lvl := DefaultLevel(t.Hour())
		return Prediction{Route: route, Level: lvl, Confidence: ConfidenceFor(-1), Status: Classify(lvl)}
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return p.predictionLocked(route, rs, slotOf(t))
}

// Current predicts the level at the current time.
func (p *Predictor) Current(route string) Prediction { return p.Predict(route, p.now()) }

// PredictAhead forecasts the level hoursAhead from now.
func (p *Predictor) PredictAhead(route string, hoursAhead int) Forecast {
	at := p.now().Add(time.Duration(hoursAhead) * time.Hour)
	pr := p.Predict(route, at)
	return Forecast{Prediction: pr, At: at, Recommendation: pr.Status.Recommendation()}
}

// Confidence returns the confidence for a route based on its history length.
func (p *Predictor) Confidence(route string) float64 {
	rs := p.route(route, false)
	if rs == nil {
		return ConfidenceFor(-1)
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return ConfidenceFor(rs.history.Len())
}

// ReportIncident raises the current slot of route by 30, capped at 100.
func (p *Predictor) ReportIncident(route string) Prediction {
	now := p.now()
	rs := p.route(route, true)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	k := slotOf(now)
	e, ok := rs.table[k]
	if !ok {
		e = &entry{level: DefaultLevel(k.hour)}
		rs.table[k] = e
	}
	e.level = clamp(e.level + incidentBump)
	e.samples++
	rs.history.Push(Observation{Route: route, At: now, Level: e.level})
	p.log.Warnf("incident reported on %s, level now %.1f", route, e.level)
	return p.predictionLocked(route, rs, k)
}

// AlertKind distinguishes reactive from predictive alerts.
type AlertKind string

const (
	AlertReactive   AlertKind = "reactive"
	AlertPredictive AlertKind = "predictive"
)

// Alert describes an alertable route.
type Alert struct {
	Kind           AlertKind  `json:"kind"`
	Route          string     `json:"route"`
	Current        Prediction `json:"current"`
	Ahead          Forecast   `json:"ahead"`
	Recommendation string     `json:"recommendation"`
	EstimatedDelay float64    `json:"estimated_delay"`
}

// MessageType returns the notification type for the alert.
func (a Alert) MessageType() model.MessageType {
	if a.Kind == AlertPredictive {
		return model.MsgPredictiveAlert
	}
	return model.MsgTrafficAlert
}

// Payload renders the alert as a message payload.
func (a Alert) Payload() map[string]any {
	p := map[string]any{
		"route":           a.Route,
		"traffic_level":   a.Current.Level,
		"status":          string(a.Current.Status),
		"recommendation":  a.Recommendation,
		"estimated_delay": a.EstimatedDelay,
		"confidence":      a.Current.Confidence,
	}
	if a.Kind == AlertPredictive {
		p["predicted_level"] = a.Ahead.Level
		p["predicted_time"] = a.Ahead.At
	}
	return p
}

// Evaluate returns the alert for route, if any. Reactive alerts take
// precedence over predictive ones.
func (p *Predictor) Evaluate(route string) (Alert, bool) {
	cur := p.Current(route)
	ahead := p.PredictAhead(route, 1)
	a := Alert{Route: route, Current: cur, Ahead: ahead}
	switch {
	case cur.Level >= reactiveThreshold:
		a.Kind = AlertReactive
		a.Recommendation = cur.Status.Recommendation()
		a.EstimatedDelay = EstimatedDelay(cur.Level)
	case ahead.Level > predictiveThreshold && cur.Level < predictiveCeiling:
		a.Kind = AlertPredictive
		a.Recommendation = ahead.Recommendation
		a.EstimatedDelay = EstimatedDelay(ahead.Level)
	default:
		return Alert{}, false
	}
	return a, true
}

// Alerts evaluates every route and returns the alertable ones in input order.
func (p *Predictor) Alerts(routes []string) []Alert {
	var out []Alert
	for _, r := range routes {
		if a, ok := p.Evaluate(r); ok {
			out = append(out, a)
		}
	}
	return out
}

// Departure is the suggested start time for a route.
type Departure struct {
	Route      string    `json:"route"`
	At         time.Time `json:"at"`
	HoursAhead int       `json:"hours_ahead"`
	Level      float64   `json:"level"`
	Reason     string    `json:"reason"`
}

// SuggestDeparture scans the next six hours and picks the lowest predicted
// level. Earlier hours win ties.
func (p *Predictor) SuggestDeparture(route string) Departure {
	best := Departure{Route: route, Level: 101}
	for h := 0; h <= departureHorizon; h++ {
		f := p.PredictAhead(route, h)
		if f.Level < best.Level {
			best = Departure{Route: route, At: f.At, HoursAhead: h, Level: f.Level}
		}
	}
	best.Reason = fmt.Sprintf("Optimal window with %.0f%% traffic level", best.Level)
	return best
}

// History returns the stored observations of route, oldest first.
func (p *Predictor) History(route string) []Observation {
	rs := p.route(route, false)
	if rs == nil {
		return nil
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.history.Items()
}

// Routes lists the observed routes in lexical order.
func (p *Predictor) Routes() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.routes))
	for r := range p.routes {
		out = append(out, r)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

// TableEntry is an exported view of one learned key.
type TableEntry struct {
	Route   string       `json:"route"`
	Hour    int          `json:"hour"`
	Weekday time.Weekday `json:"weekday"`
	Level   float64      `json:"level"`
	Samples int          `json:"samples"`
}

// Snapshot returns all learned entries ordered by route, weekday and hour.
func (p *Predictor) Snapshot() []TableEntry {
	var out []TableEntry
	for _, r := range p.Routes() {
		rs := p.route(r, false)
		rs.mu.RLock()
		for k, e := range rs.table {
			out = append(out, TableEntry{Route: r, Hour: k.hour, Weekday: k.weekday, Level: e.level, Samples: e.samples})
		}
		rs.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Route != b.Route {
			return a.Route < b.Route
		}
		if a.Weekday != b.Weekday {
			return a.Weekday < b.Weekday
		}
		return a.Hour < b.Hour
	})
	return out
}
