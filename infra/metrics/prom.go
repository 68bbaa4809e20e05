package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/optiroute/core/metrics"
)

// PromSink records dispatch events in Prometheus metrics.
type PromSink struct {
	assignments    *prometheus.CounterVec
	latency        prometheus.Histogram
	rejections     *prometheus.CounterVec
	redistribution *prometheus.CounterVec
	negotiations   *prometheus.CounterVec
	winningBid     prometheus.Histogram
	traffic        *prometheus.GaugeVec
	confidence     *prometheus.GaugeVec
	alerts         *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	deliveryTime   prometheus.Histogram
	fleet          *prometheus.GaugeVec
}

// NewPromSink registers dispatch metrics on the default Prometheus registerer.
// The HTTP endpoint is started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered under the same name are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_assignments_total",
			Help: "Orders assigned to a worker",
		}, []string{"worker_id", "reason"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_allocation_seconds",
			Help:    "Time spent choosing and reserving a worker",
			Buckets: prometheus.DefBuckets,
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_rejections_total",
			Help: "Orders that could not be allocated",
		}, []string{"reason"}),
		redistribution: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_redistributions_total",
			Help: "Orders moved away from a failed worker",
		}, []string{"success"}),
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "negotiation_sessions_total",
			Help: "Resolved negotiation sessions",
		}, []string{"outcome"}),
		winningBid: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "negotiation_winning_bid",
			Help:    "Winning bid value",
			Buckets: prometheus.LinearBuckets(0, 10, 10),
		}),
		traffic: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "traffic_level",
			Help: "Last observed traffic level per route",
		}, []string{"route"}),
		confidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "traffic_prediction_confidence",
			Help: "Confidence of the current prediction per route",
		}, []string{"route"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traffic_alerts_total",
			Help: "Traffic alerts raised",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Finished deliveries",
		}, []string{"worker_id", "success"}),
		deliveryTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "delivery_minutes",
			Help:    "Delivery duration in minutes",
			Buckets: []float64{5, 10, 20, 30, 45, 60, 90, 120},
		}),
		fleet: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleet_workers",
			Help: "Registered workers by state",
		}, []string{"state"}),
	}
	var err error
	if s.assignments, err = register(reg, s.assignments); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, s.latency); err != nil {
		return nil, err
	}
	if s.rejections, err = register(reg, s.rejections); err != nil {
		return nil, err
	}
	if s.redistribution, err = register(reg, s.redistribution); err != nil {
		return nil, err
	}
	if s.negotiations, err = register(reg, s.negotiations); err != nil {
		return nil, err
	}
	if s.winningBid, err = register(reg, s.winningBid); err != nil {
		return nil, err
	}
	if s.traffic, err = register(reg, s.traffic); err != nil {
		return nil, err
	}
	if s.confidence, err = register(reg, s.confidence); err != nil {
		return nil, err
	}
	if s.alerts, err = register(reg, s.alerts); err != nil {
		return nil, err
	}
	if s.deliveries, err = register(reg, s.deliveries); err != nil {
		return nil, err
	}
	if s.deliveryTime, err = register(reg, s.deliveryTime); err != nil {
		return nil, err
	}
	if s.fleet, err = register(reg, s.fleet); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	s.assignments.WithLabelValues(ev.WorkerID, ev.Reason).Inc()
	if ev.Latency > 0 {
		s.latency.Observe(ev.Latency.Seconds())
	}
	return nil
}

func (s *PromSink) RecordRejection(ev coremetrics.RejectionEvent) error {
	s.rejections.WithLabelValues(ev.Reason).Inc()
	return nil
}

func (s *PromSink) RecordRedistribution(ev coremetrics.RedistributionEvent) error {
	s.redistribution.WithLabelValues(strconv.FormatBool(ev.Success)).Inc()
	return nil
}

func (s *PromSink) RecordNegotiation(ev coremetrics.NegotiationEvent) error {
	if ev.NoWinner {
		s.negotiations.WithLabelValues("no_winner").Inc()
		return nil
	}
	s.negotiations.WithLabelValues("awarded").Inc()
	s.winningBid.Observe(ev.WinningBid)
	return nil
}

func (s *PromSink) RecordTraffic(ev coremetrics.TrafficEvent) error {
	s.traffic.WithLabelValues(ev.Route).Set(ev.Observed)
	s.confidence.WithLabelValues(ev.Route).Set(ev.Confidence)
	return nil
}

func (s *PromSink) RecordAlert(ev coremetrics.AlertEvent) error {
	s.alerts.WithLabelValues(ev.Kind).Inc()
	return nil
}

func (s *PromSink) RecordDelivery(ev coremetrics.DeliveryEvent) error {
	s.deliveries.WithLabelValues(ev.WorkerID, strconv.FormatBool(ev.Success)).Inc()
	s.deliveryTime.Observe(ev.Minutes)
	return nil
}

func (s *PromSink) RecordFleet(active, unresponsive, pending int) error {
	s.fleet.WithLabelValues("active").Set(float64(active))
	s.fleet.WithLabelValues("unresponsive").Set(float64(unresponsive))
	s.fleet.WithLabelValues("pending_orders").Set(float64(pending))
	return nil
}
