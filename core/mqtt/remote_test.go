package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/worker"
)

type mockClient struct {
	mu      sync.Mutex
	sent    []Request
	replies map[string]Reply
	failTo  map[string]bool
}

func newMockClient() *mockClient {
	return &mockClient{replies: make(map[string]Reply), failTo: make(map[string]bool)}
}

func (m *mockClient) Send(_ context.Context, workerID, kind string, order *model.Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTo[workerID] {
		return "", fmt.Errorf("publish failed")
	}
	id := fmt.Sprintf("cmd-%d", len(m.sent))
	m.sent = append(m.sent, Request{CommandID: id, Kind: kind, WorkerID: workerID, Order: order})
	return id, nil
}

func (m *mockClient) WaitForReply(_ context.Context, commandID string, _ time.Duration) (Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.sent {
		if r.CommandID != commandID {
			continue
		}
		rep, ok := m.replies[r.WorkerID+"/"+r.Kind]
		if !ok {
			return Reply{}, ErrReplyTimeout
		}
		rep.CommandID = commandID
		return rep, nil
	}
	return Reply{}, ErrUnknownCommand
}

func cost(v float64) *float64 { return &v }

var order = model.Order{ID: "o1", Pickup: &model.Location{}, Delivery: &model.Location{Lat: 1}, Weight: 2}

func TestRemoteWorkerAccept(t *testing.T) {
	cli := newMockClient()
	cli.replies["w1/order"] = Reply{Accepted: true}
	w := NewRemoteWorker("w1", cli, 0)

	ok, err := worker.AcceptWithTimeout(context.Background(), w, order, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, cli.sent, 1)
	assert.Equal(t, KindOrder, cli.sent[0].Kind)
	assert.Equal(t, "o1", cli.sent[0].Order.ID)
}

func TestRemoteWorkerQuote(t *testing.T) {
	cli := newMockClient()
	cli.replies["w1/quote"] = Reply{Cost: cost(12.5)}
	cli.replies["w2/quote"] = Reply{}
	v, err := NewRemoteWorker("w1", cli, 0).QuoteCost(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)

	_, err = NewRemoteWorker("w2", cli, 0).QuoteCost(context.Background(), order)
	require.ErrorIs(t, err, worker.ErrNoQuote)
}

func TestRemoteWorkerErrors(t *testing.T) {
	cli := newMockClient()
	cli.failTo["down"] = true
	cli.replies["bad/ping"] = Reply{Error: "battery low"}

	if err := NewRemoteWorker("silent", cli, 0).Ping(context.Background()); !errors.Is(err, ErrReplyTimeout) {
		t.Fatalf("expected ErrReplyTimeout, got %v", err)
	}
	require.Error(t, NewRemoteWorker("down", cli, 0).Ping(context.Background()))
	require.ErrorIs(t, NewRemoteWorker("bad", cli, 0).Ping(context.Background()), ErrRemote)
}

func TestTopics(t *testing.T) {
	tp := Topics{Prefix: "fleet/"}
	assert.Equal(t, "fleet/worker/w1/order", tp.Request("w1"))
	assert.Equal(t, "fleet/worker/+/reply", tp.Replies())
	assert.Equal(t, "fleet/agent/broadcast/messages", tp.Messages(model.Broadcast))
	assert.Equal(t, "optiroute/traffic/+", Topics{}.TrafficAll())
	assert.Equal(t, "r9", LastSegment(tp.Traffic("r9")))
}
