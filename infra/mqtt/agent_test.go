package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/optiroute/core/model"
	coremqtt "github.com/kilianp07/optiroute/core/mqtt"
	"github.com/kilianp07/optiroute/core/worker"
)

func newTestClient(t *testing.T) (*PahoClient, *mockClient) {
	t.Helper()
	mc := &mockClient{}
	useMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", TopicPrefix: "fleet"})
	require.NoError(t, err)
	return cli, mc
}

func TestAgentHandle(t *testing.T) {
	cli, _ := newTestClient(t)
	price := 9.0
	a := NewAgent(cli, worker.Static{WorkerID: "w1", Cost: &price}, model.WorkerProfile{Type: "delivery"}, 0)
	order := &model.Order{ID: "o1", Pickup: &model.Location{}, Delivery: &model.Location{Lat: 1}, Weight: 1}

	rep := a.Handle(context.Background(), coremqtt.Request{CommandID: "c1", Kind: coremqtt.KindOrder, Order: order})
	assert.True(t, rep.Accepted, "workers without acceptor take every order")
	assert.Equal(t, "c1", rep.CommandID)

	rep = a.Handle(context.Background(), coremqtt.Request{Kind: coremqtt.KindQuote, Order: order})
	require.NotNil(t, rep.Cost)
	assert.Equal(t, 9.0, *rep.Cost)

	rep = a.Handle(context.Background(), coremqtt.Request{Kind: coremqtt.KindPing})
	assert.Empty(t, rep.Error)

	rep = a.Handle(context.Background(), coremqtt.Request{Kind: "dance"})
	assert.NotEmpty(t, rep.Error)

	noQuote := NewAgent(cli, worker.Static{WorkerID: "w2"}, model.WorkerProfile{}, 0)
	rep = noQuote.Handle(context.Background(), coremqtt.Request{Kind: coremqtt.KindQuote, Order: order})
	assert.Nil(t, rep.Cost)
	assert.Empty(t, rep.Error)
}

func TestAgentAnnounce(t *testing.T) {
	cli, mc := newTestClient(t)
	var got []coremqtt.Announcement
	mc.onPublish = func(topic string, payload []byte) {
		var a coremqtt.Announcement
		require.NoError(t, json.Unmarshal(payload, &a))
		assert.Equal(t, "fleet/worker/w1/announce", topic)
		got = append(got, a)
	}
	a := NewAgent(cli, worker.Static{WorkerID: "w1", Location: &model.Location{Lat: 2}}, model.WorkerProfile{Type: "delivery", Capacity: 10}, 0)
	require.NoError(t, a.announce(context.Background(), true))
	require.NoError(t, a.announce(context.Background(), false))
	require.Len(t, got, 2)
	require.NotNil(t, got[0].Profile)
	assert.Equal(t, "w1", got[0].Profile.ID)
	assert.Nil(t, got[1].Profile)
	assert.Equal(t, 2.0, got[1].Location.Lat)
}

type fakeFleet struct {
	registered []model.WorkerProfile
	workers    []worker.Worker
	beats      []string
}

func (f *fakeFleet) RegisterWorker(_ context.Context, w worker.Worker, p model.WorkerProfile) (model.WorkerProfile, error) {
	f.workers = append(f.workers, w)
	f.registered = append(f.registered, p)
	return p, nil
}

func (f *fakeFleet) Heartbeat(_ context.Context, id string, _ *model.Location) error {
	if id == "ghost" {
		return errors.New("unknown worker")
	}
	f.beats = append(f.beats, id)
	return nil
}

func TestFleetListener(t *testing.T) {
	cli, mc := newTestClient(t)
	fleet := &fakeFleet{}
	l := NewFleetListener(cli, fleet, 0)
	require.NoError(t, l.Start(context.Background()))
	assert.Equal(t, "fleet/worker/+/announce", mc.subscribed[len(mc.subscribed)-1].topic)

	require.NoError(t, l.handle(context.Background(), "fleet/worker/w7/announce", []byte(`{"profile":{"type":"delivery","capacity":12}}`)))
	require.Len(t, fleet.registered, 1)
	assert.Equal(t, "w7", fleet.registered[0].ID)
	_, remote := fleet.workers[0].(*coremqtt.RemoteWorker)
	assert.True(t, remote)

	require.NoError(t, l.handle(context.Background(), "fleet/worker/w7/announce", []byte(`{"worker_id":"w7"}`)))
	assert.Equal(t, []string{"w7"}, fleet.beats)

	require.Error(t, l.handle(context.Background(), "fleet/worker/ghost/announce", []byte(`{}`)))
	require.Error(t, l.handle(context.Background(), "x", []byte(`nope`)))
}

func TestNotifierTopic(t *testing.T) {
	cli, mc := newTestClient(t)
	n := NewNotifier(cli)
	var topic string
	var msg model.Message
	mc.onPublish = func(tp string, payload []byte) {
		topic = tp
		require.NoError(t, json.Unmarshal(payload, &msg))
	}
	require.NoError(t, n.Notify(context.Background(), model.Message{Sender: "coordinator", Recipient: "w3", Type: model.MsgOrderAssignment}))
	assert.Equal(t, "fleet/agent/w3/messages", topic)
	assert.Equal(t, model.MsgOrderAssignment, msg.Type)
	require.NoError(t, n.Close())
}
