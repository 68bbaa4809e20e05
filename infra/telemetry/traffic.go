// Package telemetry collects traffic readings pushed by road sensors over
// MQTT and serves them as a traffic source.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/kilianp07/optiroute/core/logger"
	coremqtt "github.com/kilianp07/optiroute/core/mqtt"
	"github.com/kilianp07/optiroute/core/traffic"
	infralog "github.com/kilianp07/optiroute/infra/logger"
)

type subscriber interface {
	Subscribe(topic string, handler paho.MessageHandler) error
}

type reading struct {
	level float64
	at    time.Time
}

// Feed keeps the latest reading of every route. Readings older than MaxAge
// are ignored by Sample.
type Feed struct {
	cli    subscriber
	topics coremqtt.Topics
	maxAge time.Duration
	now    func() time.Time
	log    logger.Logger
	latest *xsync.Map[string, reading]

	received prometheus.Counter
	rejected prometheus.Counter
	stale    prometheus.Counter
}

// NewFeed creates a feed reading from topics.TrafficAll(). Metrics are
// registered on reg when it is not nil.
func NewFeed(cli subscriber, topics coremqtt.Topics, maxAge time.Duration, reg prometheus.Registerer) (*Feed, error) {
	if cli == nil {
		return nil, fmt.Errorf("mqtt client cannot be nil")
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	f := &Feed{
		cli:      cli,
		topics:   topics,
		maxAge:   maxAge,
		now:      time.Now,
		log:      infralog.New("telemetry"),
		latest:   xsync.NewMap[string, reading](),
		received: prometheus.NewCounter(prometheus.CounterOpts{Name: "traffic_readings_received_total", Help: "Traffic readings received over MQTT"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{Name: "traffic_readings_rejected_total", Help: "Traffic readings that could not be decoded"}),
		stale:    prometheus.NewCounter(prometheus.CounterOpts{Name: "traffic_readings_stale_total", Help: "Samples refused because the last reading was too old"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{f.received, f.rejected, f.stale} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

// Start subscribes to the readings.
func (f *Feed) Start() error {
	return f.cli.Subscribe(f.topics.TrafficAll(), func(_ paho.Client, msg paho.Message) {
		if err := f.process(msg.Topic(), msg.Payload()); err != nil {
			f.rejected.Inc()
			f.log.Warnf("traffic reading on %s: %v", msg.Topic(), err)
		}
	})
}

func (f *Feed) process(topic string, payload []byte) error {
	var msg struct {
		Route string  `json:"route"`
		Level float64 `json:"level"`
		TS    *int64  `json:"ts"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	if msg.Route == "" {
		msg.Route = coremqtt.LastSegment(topic)
	}
	if msg.Route == "" || strings.ContainsAny(msg.Route, "+#") {
		return fmt.Errorf("reading without route")
	}
	if msg.Level < 0 || msg.Level > 100 {
		return fmt.Errorf("level %v outside 0..100", msg.Level)
	}
	at := f.now()
	if msg.TS != nil {
		at = time.Unix(*msg.TS, 0)
	}
	if prev, ok := f.latest.Load(msg.Route); ok && prev.at.After(at) {
		return nil
	}
	f.latest.Store(msg.Route, reading{level: msg.Level, at: at})
	f.received.Inc()
	return nil
}

// Sample implements traffic.Source.
func (f *Feed) Sample(_ context.Context, route string) (float64, error) {
	r, ok := f.latest.Load(route)
	if !ok {
		return 0, fmt.Errorf("%w: %s", traffic.ErrNoReading, route)
	}
	if f.now().Sub(r.at) > f.maxAge {
		f.stale.Inc()
		return 0, fmt.Errorf("%w: %s reading is %s old", traffic.ErrNoReading, route, f.now().Sub(r.at).Round(time.Second))
	}
	return r.level, nil
}

// Routes returns the routes seen so far.
func (f *Feed) Routes() []string {
	var out []string
	f.latest.Range(func(k string, _ reading) bool {
		out = append(out, k)
		return true
	})
	return out
}
