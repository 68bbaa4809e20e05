package telemetry

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremqtt "github.com/kilianp07/optiroute/core/mqtt"
	"github.com/kilianp07/optiroute/core/traffic"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type fakeSub struct {
	topic   string
	handler paho.MessageHandler
}

func (s *fakeSub) Subscribe(topic string, h paho.MessageHandler) error {
	s.topic, s.handler = topic, h
	return nil
}

func newFeed(t *testing.T) (*Feed, *fakeSub, *time.Time) {
	t.Helper()
	sub := &fakeSub{}
	f, err := NewFeed(sub, coremqtt.Topics{Prefix: "city"}, time.Minute, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }
	if err := f.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return f, sub, &now
}

func TestFeedKeepsLatestReading(t *testing.T) {
	f, sub, now := newFeed(t)
	if sub.topic != "city/traffic/+" {
		t.Fatalf("unexpected subscription %q", sub.topic)
	}
	sub.handler(nil, &fakeMessage{topic: "city/traffic/r1", payload: []byte(`{"level":42}`)})
	sub.handler(nil, &fakeMessage{topic: "city/traffic/r2", payload: []byte(`{"route":"r2","level":80}`)})
	v, err := f.Sample(context.Background(), "r1")
	if err != nil || v != 42 {
		t.Fatalf("sample r1 = %v, %v", v, err)
	}
	old := now.Add(-time.Hour).Unix()
	if err := f.process("city/traffic/r1", []byte(`{"level":10,"ts":`+itoa(old)+`}`)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if v, _ := f.Sample(context.Background(), "r1"); v != 42 {
		t.Fatalf("older reading must not replace newer one, got %v", v)
	}
	routes := f.Routes()
	sort.Strings(routes)
	if len(routes) != 2 || routes[0] != "r1" || routes[1] != "r2" {
		t.Fatalf("routes = %v", routes)
	}
	if got := testutil.ToFloat64(f.received); got != 2 {
		t.Fatalf("received = %v", got)
	}
}

func TestFeedRejectsAndExpires(t *testing.T) {
	f, sub, now := newFeed(t)
	sub.handler(nil, &fakeMessage{topic: "city/traffic/r1", payload: []byte(`nope`)})
	sub.handler(nil, &fakeMessage{topic: "city/traffic/r1", payload: []byte(`{"level":140}`)})
	if got := testutil.ToFloat64(f.rejected); got != 2 {
		t.Fatalf("rejected = %v", got)
	}
	if _, err := f.Sample(context.Background(), "r1"); !errors.Is(err, traffic.ErrNoReading) {
		t.Fatalf("expected ErrNoReading, got %v", err)
	}
	sub.handler(nil, &fakeMessage{topic: "city/traffic/r1", payload: []byte(`{"level":30}`)})
	*now = now.Add(2 * time.Minute)
	if _, err := f.Sample(context.Background(), "r1"); !errors.Is(err, traffic.ErrNoReading) {
		t.Fatalf("stale reading should be refused, got %v", err)
	}
	if got := testutil.ToFloat64(f.stale); got != 1 {
		t.Fatalf("stale = %v", got)
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
