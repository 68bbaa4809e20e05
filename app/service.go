// Package app assembles the dispatch core from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"

	"github.com/kilianp07/optiroute/config"
	"github.com/kilianp07/optiroute/core/coordinator"
	"github.com/kilianp07/optiroute/core/dispatch"
	"github.com/kilianp07/optiroute/core/events"
	"github.com/kilianp07/optiroute/core/journal"
	coremetrics "github.com/kilianp07/optiroute/core/metrics"
	"github.com/kilianp07/optiroute/core/monitoring"
	"github.com/kilianp07/optiroute/core/negotiation"
	"github.com/kilianp07/optiroute/core/notify"
	"github.com/kilianp07/optiroute/core/performance"
	"github.com/kilianp07/optiroute/core/prediction"
	"github.com/kilianp07/optiroute/core/registry"
	"github.com/kilianp07/optiroute/core/traffic"
	"github.com/kilianp07/optiroute/core/worker"
	_ "github.com/kilianp07/optiroute/infra/amqp" // registers the amqp notifier
	"github.com/kilianp07/optiroute/infra/logger"
	"github.com/kilianp07/optiroute/infra/metrics"
	"github.com/kilianp07/optiroute/infra/mqtt"
	"github.com/kilianp07/optiroute/infra/telemetry"
	"github.com/kilianp07/optiroute/internal/eventbus"
	"github.com/kilianp07/optiroute/jobs"
)

// Service owns every long lived component.
type Service struct {
	cfg *config.Config
	log logger.Logger
	now func() time.Time

	Coordinator *coordinator.Coordinator
	Negotiation *negotiation.Engine
	Predictor   *prediction.Predictor
	Monitor     *traffic.Monitor
	Jobs        *jobs.Manager
	Events      *eventbus.TypedBus[events.Event]
	Fleet       []*worker.Simulated

	notifier notify.Notifier
	journal  journal.Store
	sink     coremetrics.Sink
	mqtt     *mqtt.PahoClient
	listener *mqtt.FleetListener
	feed     *telemetry.Feed
}

// Option customises a Service.
type Option func(*options)

type options struct {
	notifiers []notify.Notifier
	clock     func() time.Time
	noJobs    bool
}

// WithNotifier adds n next to the configured notifiers.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifiers = append(o.notifiers, n) }
}

// WithClock drives every component from now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.clock = now } }

// WithoutJobs skips the maintenance scheduler.
func WithoutJobs() Option { return func(o *options) { o.noJobs = true } }

// New builds the service. Nothing runs until Run is called; Close releases
// whatever New acquired, also after a failed Run.
func New(cfg *config.Config, opts ...Option) (svc *Service, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if err := logger.Configure(cfg.Logging); err != nil {
		return nil, err
	}
	notify.SetLoggerFactory(logger.New)

	s := &Service{cfg: cfg, log: logger.New("service"), now: o.clock}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if s.sink, err = coremetrics.NewSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if s.journal, err = journal.Open(cfg.Journal); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	if err = s.buildNotifier(o.notifiers); err != nil {
		return nil, err
	}
	if cfg.MQTT.Enabled() {
		if s.mqtt, err = mqtt.NewPahoClient(cfg.MQTT); err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
	}
	if err = s.buildCore(o.clock); err != nil {
		return nil, err
	}
	if err = s.buildMonitor(o.clock); err != nil {
		return nil, err
	}
	if !o.noJobs {
		if s.Jobs, err = jobs.NewManager(cfg.Jobs, s.Coordinator, s.Negotiation, logger.New("jobs")); err != nil {
			return nil, fmt.Errorf("jobs: %w", err)
		}
	}
	if s.mqtt != nil {
		s.listener = mqtt.NewFleetListener(s.mqtt, s.Coordinator, cfg.MQTT.ReplyTimeout())
	}
	return s, nil
}

func (s *Service) buildNotifier(extra []notify.Notifier) error {
	n, err := notify.New(s.cfg.Notifiers)
	if err != nil {
		return fmt.Errorf("notifiers: %w", err)
	}
	if len(extra) > 0 {
		n = append(notify.Multi{n}, extra...)
	}
	s.notifier = n
	return nil
}

func (s *Service) buildCore(now func() time.Time) error {
	cfg := s.cfg
	s.Predictor = prediction.NewPredictor(cfg.Prediction,
		prediction.WithClock(now), prediction.WithLogger(logger.New("prediction")))
	dtm := prediction.NewDeliveryTimeModel(cfg.Prediction.ModelMinSamples)
	reg := registry.New(now)
	perf := performance.NewTracker()

	alloc, err := dispatch.NewAllocator(cfg.Dispatch, reg, perf,
		dispatch.WithTraffic(s.Predictor),
		dispatch.WithDeliveryModel(dtm),
		dispatch.WithMetrics(s.sink),
		dispatch.WithLogger(logger.New("allocator")),
		dispatch.WithClock(now),
	)
	if err != nil {
		return fmt.Errorf("allocator: %w", err)
	}
	s.Negotiation, err = negotiation.NewEngine(cfg.Negotiation, reg,
		negotiation.WithLogger(logger.New("negotiation")), negotiation.WithClock(now))
	if err != nil {
		return fmt.Errorf("negotiation: %w", err)
	}
	s.Events = eventbus.NewTyped[events.Event](256)
	s.Coordinator, err = coordinator.New(cfg.Coordinator, coordinator.Deps{
		Registry:      reg,
		Allocator:     alloc,
		Negotiation:   s.Negotiation,
		Performance:   perf,
		Traffic:       s.Predictor,
		DeliveryModel: dtm,
		Notifier:      s.notifier,
		Metrics:       s.sink,
		Journal:       s.journal,
		Bus:           s.Events,
		Logger:        logger.New("coordinator"),
		Clock:         now,
	})
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	return nil
}

func (s *Service) buildMonitor(now func() time.Time) error {
	cfg := s.cfg.Traffic
	var src traffic.Source
	switch cfg.Source {
	case "mqtt":
		if s.mqtt == nil {
			return fmt.Errorf("traffic source mqtt requires an mqtt broker")
		}
		var reg prometheus.Registerer
		if s.cfg.Metrics.PrometheusAddr != "" {
			reg = prometheus.DefaultRegisterer
		}
		feed, err := telemetry.NewFeed(s.mqtt, s.mqtt.Topics(), cfg.MaxReadingAge(), reg)
		if err != nil {
			return fmt.Errorf("traffic feed: %w", err)
		}
		s.feed, src = feed, feed
	default:
		src = traffic.NewSimulatedSource(cfg.Seed, cfg.Jitter, now)
	}
	m, err := traffic.NewMonitor(cfg, src, s.Coordinator, s.Predictor,
		traffic.WithNotifier(s.notifier),
		traffic.WithMetrics(s.sink),
		traffic.WithLogger(logger.New("traffic")),
		traffic.WithClock(now),
	)
	if err != nil {
		return fmt.Errorf("traffic monitor: %w", err)
	}
	s.Monitor = m
	return nil
}

// Restore replays the journal into the coordinator. It returns the number
// of records applied.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.journal == nil {
		return 0, nil
	}
	n, err := journal.Replay(ctx, s.journal, s.Coordinator, journal.Query{})
	s.log.Infof("journal replay applied %d records", n)
	return n, err
}

// StartFleet registers the simulated workers described by the fleet
// section.
func (s *Service) StartFleet(ctx context.Context) error {
	var errs []error
	for _, sc := range s.cfg.Fleet.Build() {
		sim := worker.NewSimulated(sc, worker.WithTraffic(s.Predictor), worker.WithSimClock(s.now))
		if _, err := s.Coordinator.RegisterWorker(ctx, sim, sim.Profile()); err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", sc.ID, err))
			continue
		}
		s.Fleet = append(s.Fleet, sim)
	}
	if len(s.Fleet) > 0 {
		s.log.Infof("simulated fleet of %d workers registered", len(s.Fleet))
	}
	return errors.Join(errs...)
}

// Run starts the background components and blocks until ctx is done. The
// scheduler is stopped before the monitor loop is awaited.
func (s *Service) Run(ctx context.Context) error {
	if s.listener != nil {
		if err := s.listener.Start(ctx); err != nil {
			return fmt.Errorf("fleet listener: %w", err)
		}
	}
	if s.feed != nil {
		if err := s.feed.Start(); err != nil {
			return fmt.Errorf("traffic feed: %w", err)
		}
	}
	if s.Jobs != nil {
		if err := s.Jobs.Start(ctx); err != nil {
			return err
		}
	}
	var wg conc.WaitGroup
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		wg.Go(func() {
			if err := metrics.StartPromServer(ctx, addr); err != nil {
				s.log.Errorf("prom server: %v", err)
				monitoring.CaptureException(err, map[string]string{"module": "prometheus"})
			}
		})
	}
	wg.Go(func() {
		if err := monitoring.Guard("traffic", func() {
			if err := s.Monitor.Run(ctx); err != nil {
				s.log.Errorf("traffic monitor: %v", err)
			}
		}); err != nil {
			s.log.Errorf("%v", err)
		}
	})
	s.log.Infof("optiroute running")
	<-ctx.Done()
	if s.Jobs != nil {
		s.Jobs.Stop()
	}
	wg.Wait()
	return nil
}

// Close releases the notifiers, the MQTT connection and the journal, in
// that order.
func (s *Service) Close() error {
	var errs []error
	if s.notifier != nil {
		errs = append(errs, s.notifier.Close())
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	if s.Events != nil {
		s.Events.Close()
	}
	monitoring.Flush(2 * time.Second)
	return errors.Join(errs...)
}
