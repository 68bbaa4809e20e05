package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/optiroute/core/factory"
	"github.com/kilianp07/optiroute/core/model"
)

type recorder struct {
	msgs   []model.Message
	err    error
	closed bool
}

func (r *recorder) Notify(_ context.Context, m model.Message) error {
	r.msgs = append(r.msgs, m)
	return r.err
}

func (r *recorder) Close() error {
	r.closed = true
	return nil
}

func msg() model.Message {
	return model.NewMessage("coordinator", "w1", model.MsgOrderAssignment, map[string]any{"order_id": "o1"}, time.Unix(0, 0))
}

func TestMultiDeliversToAll(t *testing.T) {
	boom := errors.New("boom")
	a := &recorder{err: boom}
	b := &recorder{}
	m := Multi{a, b}
	err := m.Notify(context.Background(), msg())
	require.ErrorIs(t, err, boom)
	assert.Len(t, a.msgs, 1)
	assert.Len(t, b.msgs, 1)
	require.NoError(t, m.Close())
	assert.True(t, a.closed && b.closed)
}

func TestBusNotifier(t *testing.T) {
	n := NewBusNotifier(nil)
	sub := n.Bus.Subscribe(nil)
	require.NoError(t, n.Notify(context.Background(), msg()))
	got := <-sub
	assert.Equal(t, model.MsgOrderAssignment, got.Type)
	assert.Equal(t, "w1", got.Recipient)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, n.Notify(ctx, msg()))
	require.NoError(t, n.Close())
}

func TestNewFromConfig(t *testing.T) {
	n, err := New(nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)

	n, err = New([]factory.ModuleConfig{{Type: "log", Conf: map[string]any{"component": "test"}}})
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), msg()))

	n, err = New([]factory.ModuleConfig{{Type: "log"}, {Type: "bus"}})
	require.NoError(t, err)
	assert.IsType(t, Multi{}, n)
	require.NoError(t, n.Close())

	_, err = New([]factory.ModuleConfig{{Type: "carrier-pigeon"}})
	assert.Error(t, err)
}
