package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/optiroute/core/events"
	"github.com/kilianp07/optiroute/core/journal"
	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/worker"
)

// RegisterWorker adds w to the registry or refreshes its profile. Calling it
// again with the same data changes nothing. A lost worker is reactivated with
// its history intact. Pending orders are retried when the fleet changed.
func (c *Coordinator) RegisterWorker(ctx context.Context, w worker.Worker, p model.WorkerProfile) (model.WorkerProfile, error) {
	return c.registerWorker(ctx, w, p, true)
}

func (c *Coordinator) registerWorker(ctx context.Context, w worker.Worker, p model.WorkerProfile, journaled bool) (model.WorkerProfile, error) {
	if w == nil || w.ID() == "" {
		return model.WorkerProfile{}, fmt.Errorf("worker must have an id")
	}
	_, existed := c.reg.Get(w.ID())
	e, changed := c.reg.Upsert(w, p)
	prof := e.Profile()
	if !changed {
		return prof, nil
	}
	action := "registered"
	if existed {
		action = "updated"
	}
	c.log.Infow("worker "+action, map[string]any{"worker_id": prof.ID, "type": prof.Type, "capacity": prof.Capacity})
	if journaled {
		c.record(ctx, journal.Record{Kind: journal.KindWorkerRegistered, WorkerID: prof.ID, Worker: &prof})
	}
	c.publish(events.WorkerStatusEvent{WorkerID: prof.ID, Action: action, Time: c.now()})
	c.recordFleet()
	if _, err := c.RetryPending(ctx); err != nil {
		c.log.Warnf("retry after registration of %s: %v", prof.ID, err)
	}
	return prof, nil
}

// Heartbeat refreshes the liveness of a worker and optionally its location.
// A lost worker is reactivated and pending orders are retried.
func (c *Coordinator) Heartbeat(ctx context.Context, id string, loc *model.Location) error {
	reactivated, ok := c.reg.Heartbeat(id, loc)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}
	if reactivated {
		c.log.Infof("worker %s reactivated", id)
		c.publish(events.WorkerStatusEvent{WorkerID: id, Action: "reactivated", Time: c.now()})
		c.recordFleet()
		if _, err := c.RetryPending(ctx); err != nil {
			c.log.Warnf("retry after reactivation of %s: %v", id, err)
		}
	}
	return nil
}

// CheckLiveness marks workers without a recent heartbeat as unresponsive.
// Workers able to answer a ping get one more chance. The orders of newly
// lost workers are redistributed when AutoRedistribute is set. It returns
// the ids of the workers marked unresponsive.
func (c *Coordinator) CheckLiveness(ctx context.Context) ([]string, error) {
	var lost []string
	var errs []error
	for _, e := range c.reg.Stale(c.cfg.LivenessTimeout()) {
		if err := ctx.Err(); err != nil {
			return lost, errors.Join(append(errs, err)...)
		}
		pinged, err := worker.PingWithTimeout(ctx, e.Worker(), c.cfg.PingTimeout())
		if pinged && err == nil {
			c.reg.Heartbeat(e.ID(), nil)
			continue
		}
		if !c.reg.MarkUnresponsive(e.ID()) {
			continue
		}
		lost = append(lost, e.ID())
		c.log.Warnf("worker %s unresponsive", e.ID())
		c.publish(events.WorkerStatusEvent{WorkerID: e.ID(), Action: "unresponsive", Time: c.now()})
		if *c.cfg.AutoRedistribute {
			if _, err := c.Redistribute(ctx, e.ID()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(lost) > 0 {
		c.recordFleet()
	}
	return lost, errors.Join(errs...)
}
