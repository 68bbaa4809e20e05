package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/worker"
)

var (
	_ worker.OrderAcceptor = (*RemoteWorker)(nil)
	_ worker.CostQuoter    = (*RemoteWorker)(nil)
	_ worker.Pinger        = (*RemoteWorker)(nil)
)

// RemoteWorker is a worker reached through a Client.
type RemoteWorker struct {
	id      string
	cli     Client
	timeout time.Duration
}

// NewRemoteWorker returns a worker proxy. timeout bounds every reply wait
// and defaults to 2s.
func NewRemoteWorker(id string, cli Client, timeout time.Duration) *RemoteWorker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RemoteWorker{id: id, cli: cli, timeout: timeout}
}

func (r *RemoteWorker) ID() string { return r.id }

func (r *RemoteWorker) call(ctx context.Context, kind string, order *model.Order) (Reply, error) {
	cmd, err := r.cli.Send(ctx, r.id, kind, order)
	if err != nil {
		return Reply{}, fmt.Errorf("send %s to %s: %w", kind, r.id, err)
	}
	rep, err := r.cli.WaitForReply(ctx, cmd, r.timeout)
	if err != nil {
		return Reply{}, fmt.Errorf("%s reply from %s: %w", kind, r.id, err)
	}
	if rep.Error != "" {
		return rep, fmt.Errorf("%w: %s: %s", ErrRemote, r.id, rep.Error)
	}
	return rep, nil
}

// AcceptOrder offers the order to the remote worker.
func (r *RemoteWorker) AcceptOrder(ctx context.Context, order model.Order) (bool, error) {
	rep, err := r.call(ctx, KindOrder, &order)
	if err != nil {
		return false, err
	}
	return rep.Accepted, nil
}

// QuoteCost asks the remote worker for a price. A reply without cost yields
// worker.ErrNoQuote.
func (r *RemoteWorker) QuoteCost(ctx context.Context, order model.Order) (float64, error) {
	rep, err := r.call(ctx, KindQuote, &order)
	if err != nil {
		return 0, err
	}
	if rep.Cost == nil {
		return 0, worker.ErrNoQuote
	}
	return *rep.Cost, nil
}

// Ping checks that the remote worker answers.
func (r *RemoteWorker) Ping(ctx context.Context) error {
	_, err := r.call(ctx, KindPing, nil)
	return err
}
