package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/optiroute/core/dispatch"
	"github.com/kilianp07/optiroute/core/events"
	"github.com/kilianp07/optiroute/core/journal"
	"github.com/kilianp07/optiroute/core/metrics"
	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/prediction"
)

// Submit validates order and places it on the best active worker. When no
// worker can take it right now the order joins the pending queue, an
// order_pending message is broadcast and the allocation error is returned.
func (c *Coordinator) Submit(ctx context.Context, order model.Order) (dispatch.Result, error) {
	return c.submit(ctx, order, true)
}

func (c *Coordinator) submit(ctx context.Context, order model.Order, journaled bool) (dispatch.Result, error) {
	if err := order.Validate(); err != nil {
		return dispatch.Result{}, err
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = c.now()
	}
	if order.Status == "" {
		order.Status = model.OrderPending
	}
	c.mu.Lock()
	if cur, ok := c.orders[order.ID]; ok && cur.Status != model.OrderCompleted && cur.Status != model.OrderFailed {
		c.mu.Unlock()
		return dispatch.Result{}, fmt.Errorf("%w: %s already submitted", dispatch.ErrAlreadyAssigned, order.ID)
	}
	o := order
	c.orders[order.ID] = &o
	c.mu.Unlock()

	if journaled {
		c.record(ctx, journal.Record{Timestamp: order.CreatedAt, Kind: journal.KindOrderSubmitted, OrderID: order.ID, Order: &order})
	}
	return c.place(ctx, order)
}

// place allocates an order that has no active assignment.
func (c *Coordinator) place(ctx context.Context, order model.Order) (dispatch.Result, error) {
	res, err := c.alloc.Assign(ctx, order, c.candidates(c.cfg.DeliveryType, ""))
	if err != nil {
		if dispatch.IsRecoverable(err) {
			if qErr := c.enqueue(ctx, order.ID, err); qErr != nil {
				return res, errors.Join(err, qErr)
			}
		}
		return res, err
	}
	c.assigned(ctx, order, res, model.MsgOrderAssignment, nil)
	return res, nil
}

// assigned updates the order state and tells the worker about it.
func (c *Coordinator) assigned(ctx context.Context, order model.Order, res dispatch.Result, typ model.MessageType, extra map[string]any) {
	c.setStatus(order.ID, model.OrderAssigned)
	c.dequeue(order.ID)
	payload := assignmentPayload(order, res)
	for k, v := range extra {
		payload[k] = v
	}
	c.send(ctx, res.Assignment.WorkerID, typ, payload)
	c.publish(events.AssignmentEvent{Assignment: res.Assignment})
}

func (c *Coordinator) setStatus(orderID string, s model.OrderStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[orderID]
	if !ok {
		return
	}
	o.Status = s
	if s == model.OrderCompleted || s == model.OrderFailed {
		if old, evicted := c.finished.Push(orderID); evicted {
			if prev, ok := c.orders[old]; ok && (prev.Status == model.OrderCompleted || prev.Status == model.OrderFailed) {
				delete(c.orders, old)
			}
		}
	}
}

func (c *Coordinator) enqueue(ctx context.Context, orderID string, cause error) error {
	c.mu.Lock()
	if _, ok := c.queued[orderID]; ok {
		c.mu.Unlock()
		return nil
	}
	if len(c.pending) >= c.cfg.MaxPending {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d orders waiting", ErrPendingFull, c.cfg.MaxPending)
	}
	c.pending = append(c.pending, orderID)
	c.queued[orderID] = struct{}{}
	if o, ok := c.orders[orderID]; ok {
		o.Status = model.OrderPending
	}
	n := len(c.pending)
	c.mu.Unlock()

	c.log.Warnf("order %s pending: %v", orderID, cause)
	c.send(ctx, model.Broadcast, model.MsgOrderPending, map[string]any{
		"order_id": orderID,
		"reason":   cause.Error(),
		"queued":   n,
	})
	c.publish(events.PendingEvent{OrderID: orderID, Err: cause, Queued: n})
	c.recordFleet()
	return nil
}

func (c *Coordinator) dequeue(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.queued[orderID]; !ok {
		return
	}
	delete(c.queued, orderID)
	for i, id := range c.pending {
		if id == orderID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
}

// RetryPending tries to place every queued order in FIFO order. Orders that
// still cannot be placed stay queued. It returns how many were placed.
// Concurrent calls collapse into the one already running.
func (c *Coordinator) RetryPending(ctx context.Context) (int, error) {
	if !c.retryMu.TryLock() {
		return 0, nil
	}
	defer c.retryMu.Unlock()

	c.mu.Lock()
	ids := append([]string(nil), c.pending...)
	c.mu.Unlock()

	placed := 0
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return placed, err
		}
		order, ok := c.Order(id)
		if !ok {
			c.dequeue(id)
			continue
		}
		res, err := c.alloc.Assign(ctx, order, c.candidates(c.cfg.DeliveryType, ""))
		if err != nil {
			if errors.Is(err, dispatch.ErrAlreadyAssigned) {
				c.dequeue(id)
				continue
			}
			if !dispatch.IsRecoverable(err) {
				c.dequeue(id)
				c.setStatus(id, model.OrderFailed)
				errs = append(errs, fmt.Errorf("order %s: %w", id, err))
			}
			continue
		}
		c.assigned(ctx, order, res, model.MsgOrderAssignment, map[string]any{"from_queue": true})
		placed++
	}
	if placed > 0 {
		c.log.Infof("placed %d pending orders", placed)
		c.recordFleet()
	}
	return placed, errors.Join(errs...)
}

// Pending returns the queued orders, oldest first.
func (c *Coordinator) Pending() []model.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Order, 0, len(c.pending))
	for _, id := range c.pending {
		if o, ok := c.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out
}

// Order returns the known state of an order.
func (c *Coordinator) Order(id string) (model.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

// Complete closes the assignment of orderID, records a successful delivery
// taking minutes (DefaultMinutes when zero) and feeds the traffic and
// delivery time models.
func (c *Coordinator) Complete(ctx context.Context, orderID string, minutes float64) (model.Assignment, error) {
	return c.complete(ctx, orderID, minutes, true)
}

func (c *Coordinator) complete(ctx context.Context, orderID string, minutes float64, journaled bool) (model.Assignment, error) {
	if minutes <= 0 {
		minutes = c.cfg.DefaultMinutes
	}
	order, _ := c.alloc.ActiveOrder(orderID)
	asn, err := c.alloc.Complete(orderID)
	if err != nil {
		return model.Assignment{}, err
	}
	c.perf.Record(asn.WorkerID, true, minutes)
	c.setStatus(orderID, model.OrderCompleted)
	c.learn(order, minutes)
	if journaled {
		c.record(ctx, journal.Record{Kind: journal.KindOrderCompleted, OrderID: orderID, WorkerID: asn.WorkerID, Minutes: minutes})
	}
	c.delivered(orderID, asn.WorkerID, true, minutes)
	if _, err := c.RetryPending(ctx); err != nil {
		c.log.Warnf("retry after completion of %s: %v", orderID, err)
	}
	return asn, nil
}

// learn feeds an observed delivery time into the traffic and delivery time
// models.
func (c *Coordinator) learn(order model.Order, minutes float64) {
	if order.Pickup == nil || order.Delivery == nil {
		return
	}
	d := order.Distance()
	level, ok := prediction.InferLevel(d, minutes)
	if !ok {
		return
	}
	if c.traffic != nil {
		c.traffic.Observe(order.RouteID(), c.now(), level)
	}
	if c.model != nil {
		err := c.model.Add(prediction.DeliverySample{
			Distance: d, Weight: order.Weight, Traffic: level, Urgency: order.UrgencyLevel(), Minutes: minutes,
		})
		if err != nil {
			c.log.Warnf("delivery model: %v", err)
		}
	}
}

func (c *Coordinator) delivered(orderID, workerID string, success bool, minutes float64) {
	c.publish(events.DeliveryEvent{OrderID: orderID, WorkerID: workerID, Success: success, Minutes: minutes})
	if dr, ok := c.metrics.(metrics.DeliveryRecorder); ok {
		if err := dr.RecordDelivery(metrics.DeliveryEvent{
			OrderID: orderID, WorkerID: workerID, Success: success, Minutes: minutes, Time: c.now(),
		}); err != nil {
			c.log.Errorf("metrics delivery: %v", err)
		}
	}
}

// Fail records a failed delivery for the assigned worker and moves the order
// to another worker of the same type. If none can take it the order becomes
// pending and the allocation error is returned.
func (c *Coordinator) Fail(ctx context.Context, orderID string) (dispatch.Result, error) {
	return c.fail(ctx, orderID, true)
}

func (c *Coordinator) fail(ctx context.Context, orderID string, journaled bool) (dispatch.Result, error) {
	asn, ok := c.alloc.Active(orderID)
	if !ok {
		return dispatch.Result{}, fmt.Errorf("%w: %s", dispatch.ErrUnknownOrder, orderID)
	}
	order, _ := c.alloc.ActiveOrder(orderID)
	c.perf.Record(asn.WorkerID, false, c.cfg.FailureMinutes)
	if journaled {
		c.record(ctx, journal.Record{Kind: journal.KindOrderFailed, OrderID: orderID, WorkerID: asn.WorkerID, Minutes: c.cfg.FailureMinutes})
	}
	c.delivered(orderID, asn.WorkerID, false, c.cfg.FailureMinutes)
	c.log.Warnf("order %s failed on %s, reassigning", orderID, asn.WorkerID)
	return c.move(ctx, order, asn.WorkerID, "delivery_failure")
}

// move takes order away from worker `from` and places it on another active
// worker of the same type.
func (c *Coordinator) move(ctx context.Context, order model.Order, from, reason string) (dispatch.Result, error) {
	workerType := c.cfg.DeliveryType
	if e, ok := c.reg.Get(from); ok {
		workerType = e.Profile().Type
	}
	res, err := c.alloc.Reassign(ctx, order, c.candidates(workerType, from), model.ReasonRedistribution)
	success := err == nil
	c.publish(events.RedistributionEvent{OrderID: order.ID, FailedWorker: from, NewWorker: res.Assignment.WorkerID, Err: err})
	if rr, ok := c.metrics.(metrics.RedistributionRecorder); ok {
		if mErr := rr.RecordRedistribution(metrics.RedistributionEvent{
			OrderID: order.ID, FailedWorker: from, NewWorker: res.Assignment.WorkerID, Success: success, Time: c.now(),
		}); mErr != nil {
			c.log.Errorf("metrics redistribution: %v", mErr)
		}
	}
	if !success {
		if _, still := c.alloc.Active(order.ID); still {
			return res, err
		}
		if qErr := c.enqueue(ctx, order.ID, err); qErr != nil {
			err = errors.Join(err, qErr)
		}
		return res, fmt.Errorf("reassign %s: %w", order.ID, err)
	}
	c.assigned(ctx, order, res, model.MsgEmergencyAssignment, map[string]any{
		"reason":         reason,
		"original_agent": from,
	})
	return res, nil
}
