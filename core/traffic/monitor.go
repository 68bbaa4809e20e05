// Package traffic keeps the traffic predictor fed with fresh readings and
// turns its alerts into broadcast messages.
package traffic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/optiroute/core/logger"
	"github.com/kilianp07/optiroute/core/metrics"
	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/notify"
	"github.com/kilianp07/optiroute/core/prediction"
)

// ErrNoReading is returned by sources without a value for a route.
var ErrNoReading = errors.New("no traffic reading")

// Source provides the current traffic level of a route, in 0..100.
type Source interface {
	Sample(ctx context.Context, route string) (float64, error)
}

// Observer receives the readings. The coordinator implements it so that
// readings are journaled with the rest of the state.
type Observer interface {
	ObserveTraffic(ctx context.Context, route string, at time.Time, level float64) (prediction.Prediction, error)
}

// Alerter evaluates routes after the readings are in.
type Alerter interface {
	Alerts(routes []string) []prediction.Alert
}

// TickResult summarises one refresh.
type TickResult struct {
	Observed int                `json:"observed"`
	Alerts   []prediction.Alert `json:"alerts,omitempty"`
}

// Monitor samples routes periodically.
type Monitor struct {
	cfg     Config
	src     Source
	obs     Observer
	alerts  Alerter
	notif   notify.Notifier
	metrics metrics.Sink
	log     logger.Logger
	now     func() time.Time
}

// Option customises a Monitor.
type Option func(*Monitor)

func WithNotifier(n notify.Notifier) Option { return func(m *Monitor) { m.notif = n } }

func WithMetrics(s metrics.Sink) Option { return func(m *Monitor) { m.metrics = s } }

func WithLogger(l logger.Logger) Option { return func(m *Monitor) { m.log = logger.OrNop(l) } }

func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// NewMonitor creates a monitor reading from src and reporting to obs.
// alerts may be nil to disable alerting.
func NewMonitor(cfg Config, src Source, obs Observer, alerts Alerter, opts ...Option) (*Monitor, error) {
	if src == nil || obs == nil {
		return nil, fmt.Errorf("traffic monitor needs a source and an observer")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Monitor{
		cfg:     cfg,
		src:     src,
		obs:     obs,
		alerts:  alerts,
		notif:   notify.Nop{},
		metrics: metrics.NopSink{},
		log:     logger.NopLogger{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Run refreshes every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if len(m.cfg.Routes) == 0 {
		m.log.Warnf("traffic monitor has no routes, not starting")
		return nil
	}
	ticker := time.NewTicker(m.cfg.Interval())
	defer ticker.Stop()
	m.log.Infof("traffic monitor started on %d routes every %s", len(m.cfg.Routes), m.cfg.Interval())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
				m.log.Warnf("traffic refresh: %v", err)
			}
		}
	}
}

// Tick samples every route once, then evaluates and sends alerts. Failed
// samples are skipped and their errors joined.
func (m *Monitor) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	var errs []error
	for _, route := range m.cfg.Routes {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		level, err := m.sample(ctx, route)
		if err != nil {
			errs = append(errs, fmt.Errorf("sample %s: %w", route, err))
			continue
		}
		if _, err := m.obs.ObserveTraffic(ctx, route, m.now(), level); err != nil {
			errs = append(errs, fmt.Errorf("observe %s: %w", route, err))
			continue
		}
		res.Observed++
	}
	if m.alerts != nil {
		res.Alerts = m.alerts.Alerts(m.cfg.Routes)
		for _, a := range res.Alerts {
			if err := m.alert(ctx, a); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return res, errors.Join(errs...)
}

func (m *Monitor) sample(ctx context.Context, route string) (float64, error) {
	if t := m.cfg.SampleTimeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return m.src.Sample(ctx, route)
}

func (m *Monitor) alert(ctx context.Context, a prediction.Alert) error {
	now := m.now()
	if ar, ok := m.metrics.(metrics.AlertRecorder); ok {
		if err := ar.RecordAlert(metrics.AlertEvent{Route: a.Route, Kind: string(a.Kind), Level: a.Current.Level, Time: now}); err != nil {
			m.log.Errorf("metrics alert: %v", err)
		}
	}
	msg := model.NewMessage(m.cfg.Sender, model.Broadcast, a.MessageType(), a.Payload(), now)
	if err := m.notif.Notify(ctx, msg); err != nil {
		return fmt.Errorf("alert %s: %w", a.Route, err)
	}
	return nil
}
