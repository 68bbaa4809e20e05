package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/optiroute/core/metrics"
	"github.com/kilianp07/optiroute/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket receiving events.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes dispatch events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a NopSink
// if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	p := write.NewPointWithMeasurement("order_assigned").
		AddTag("order_id", ev.OrderID).
		AddTag("worker_id", ev.WorkerID).
		AddTag("reason", ev.Reason).
		AddTag("component", "task_allocator").
		AddField("score", round3(ev.Score)).
		AddField("candidates", ev.Candidates).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordRejection(ev coremetrics.RejectionEvent) error {
	p := write.NewPointWithMeasurement("order_rejected").
		AddTag("order_id", ev.OrderID).
		AddTag("component", "task_allocator").
		AddField("reason", ev.Reason).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordRedistribution(ev coremetrics.RedistributionEvent) error {
	p := write.NewPointWithMeasurement("order_redistributed").
		AddTag("order_id", ev.OrderID).
		AddTag("failed_worker", ev.FailedWorker).
		AddTag("success", strconv.FormatBool(ev.Success)).
		AddTag("component", "coordinator")
	if ev.NewWorker != "" {
		p = p.AddTag("worker_id", ev.NewWorker)
	}
	p = p.AddField("count", 1).SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordNegotiation(ev coremetrics.NegotiationEvent) error {
	p := write.NewPointWithMeasurement("negotiation_resolved").
		AddTag("negotiation_id", ev.SessionID).
		AddTag("order_id", ev.OrderID).
		AddTag("component", "negotiation")
	if !ev.NoWinner {
		p = p.AddTag("winner", ev.Winner)
	}
	p = p.AddField("winning_bid", round3(ev.WinningBid)).
		AddField("bids", ev.Bids).
		AddField("no_winner", ev.NoWinner).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordTraffic(ev coremetrics.TrafficEvent) error {
	p := write.NewPointWithMeasurement("traffic_observation").
		AddTag("route", ev.Route).
		AddTag("status", ev.Status).
		AddTag("component", "traffic_predictor").
		AddField("observed", round3(ev.Observed)).
		AddField("predicted", round3(ev.Predicted)).
		AddField("confidence", round3(ev.Confidence)).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordAlert(ev coremetrics.AlertEvent) error {
	p := write.NewPointWithMeasurement("traffic_alert").
		AddTag("route", ev.Route).
		AddTag("kind", ev.Kind).
		AddField("level", round3(ev.Level)).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordDelivery(ev coremetrics.DeliveryEvent) error {
	p := write.NewPointWithMeasurement("delivery_finished").
		AddTag("order_id", ev.OrderID).
		AddTag("worker_id", ev.WorkerID).
		AddTag("success", strconv.FormatBool(ev.Success)).
		AddField("minutes", round3(ev.Minutes)).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordFleet(active, unresponsive, pending int) error {
	p := write.NewPointWithMeasurement("fleet_state").
		AddField("active", active).
		AddField("unresponsive", unresponsive).
		AddField("pending_orders", pending).
		SetTime(time.Now())
	return s.write(p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
