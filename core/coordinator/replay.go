package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/optiroute/core/dispatch"
	"github.com/kilianp07/optiroute/core/journal"
	"github.com/kilianp07/optiroute/core/metrics"
	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/performance"
	"github.com/kilianp07/optiroute/core/prediction"
	"github.com/kilianp07/optiroute/core/registry"
	"github.com/kilianp07/optiroute/core/worker"
)

var _ journal.Target = (*Coordinator)(nil)

// ObserveTraffic feeds a traffic reading to the predictor, journals it and
// records it on the metrics sink.
func (c *Coordinator) ObserveTraffic(ctx context.Context, route string, at time.Time, level float64) (prediction.Prediction, error) {
	return c.observe(ctx, route, at, level, true)
}

func (c *Coordinator) observe(ctx context.Context, route string, at time.Time, level float64, journaled bool) (prediction.Prediction, error) {
	if c.traffic == nil {
		return prediction.Prediction{}, fmt.Errorf("traffic prediction disabled")
	}
	p := c.traffic.Observe(route, at, level)
	if journaled {
		c.record(ctx, journal.Record{Timestamp: at, Kind: journal.KindTrafficObserved, Route: route, Level: level})
	}
	if tr, ok := c.metrics.(metrics.TrafficRecorder); ok {
		if err := tr.RecordTraffic(metrics.TrafficEvent{
			Route: route, Observed: level, Predicted: p.Level, Confidence: p.Confidence, Status: string(p.Status), Time: at,
		}); err != nil {
			c.log.Errorf("metrics traffic: %v", err)
		}
	}
	return p, nil
}

// Apply re-applies a journal record without journaling it again. Workers
// that are not registered yet are restored as static workers.
func (c *Coordinator) Apply(ctx context.Context, rec journal.Record) error {
	switch rec.Kind {
	case journal.KindWorkerRegistered:
		if rec.Worker == nil {
			return fmt.Errorf("worker record without profile")
		}
		var w worker.Worker
		if e, ok := c.reg.Get(rec.Worker.ID); ok {
			w = e.Worker()
		} else {
			w = worker.Static{WorkerID: rec.Worker.ID, Location: rec.Worker.Location}
		}
		p := *rec.Worker
		p.Load = 0
		_, err := c.registerWorker(ctx, w, p, false)
		return err
	case journal.KindOrderSubmitted:
		if rec.Order == nil {
			return fmt.Errorf("order record without order")
		}
		_, err := c.submit(ctx, *rec.Order, false)
		if err != nil && !isPendingErr(err) {
			return err
		}
		return nil
	case journal.KindOrderCompleted:
		_, err := c.complete(ctx, rec.OrderID, rec.Minutes, false)
		return err
	case journal.KindOrderFailed:
		_, err := c.fail(ctx, rec.OrderID, false)
		if err != nil && !isPendingErr(err) {
			return err
		}
		return nil
	case journal.KindTrafficObserved:
		_, err := c.observe(ctx, rec.Route, rec.Timestamp, rec.Level, false)
		return err
	}
	return fmt.Errorf("unknown journal kind %q", rec.Kind)
}

// isPendingErr reports whether err left the order in the pending queue,
// which is a valid replay outcome.
func isPendingErr(err error) bool {
	return dispatch.IsRecoverable(err)
}

// Status is a point in time view of the coordinator.
type Status struct {
	Workers     []model.WorkerProfile `json:"workers"`
	Active      int                   `json:"active_assignments"`
	Pending     []model.Order         `json:"pending"`
	Performance []performance.Entry   `json:"performance"`
}

// Status returns the registry, queue and performance state.
func (c *Coordinator) Status() Status {
	return Status{
		Workers:     c.reg.List(registry.Filter{}),
		Active:      c.alloc.ActiveCount(),
		Pending:     c.Pending(),
		Performance: c.perf.Snapshot(),
	}
}
