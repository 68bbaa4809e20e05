package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kilianp07/optiroute/core/dispatch"
	"github.com/kilianp07/optiroute/core/events"
	"github.com/kilianp07/optiroute/core/metrics"
	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/negotiation"
)

// Resolution is the outcome of a dispute.
type Resolution struct {
	Winner      string              `json:"winner,omitempty"`
	WinningCost float64             `json:"winning_cost"`
	Losers      []string            `json:"losers,omitempty"`
	Negotiation *negotiation.Result `json:"negotiation,omitempty"`
	// FellBack is set when no bid was received and the order went through
	// normal allocation.
	FellBack   bool             `json:"fell_back"`
	Assignment model.Assignment `json:"assignment"`
}

// ResolveConflict settles a dispute among agents for order. For an
// assignment_dispute the lowest cost wins, ties going to the smallest id.
// When costs is empty a negotiation session collects quotes from the agents
// instead; without any bid the order falls back to normal allocation. The
// winner receives assignment_awarded and every other agent
// assignment_denied. When the winner cannot take the order the current
// assignment is kept, or the order becomes pending if it had none.
func (c *Coordinator) ResolveConflict(ctx context.Context, disputeType string, agents []string, costs map[string]float64, order model.Order) (Resolution, error) {
	if disputeType != DisputeAssignment {
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnknownDispute, disputeType)
	}
	if err := order.Validate(); err != nil {
		return Resolution{}, err
	}
	c.track(order)

	var res Resolution
	if len(costs) > 0 {
		w, v, _ := negotiation.LowestBid(costs)
		res.Winner, res.WinningCost = w, v
	} else {
		nr, err := c.neg.Negotiate(ctx, agents, order)
		if err != nil {
			return res, fmt.Errorf("negotiate %s: %w", order.ID, err)
		}
		res.Negotiation = &nr
		c.negotiated(ctx, order, nr)
		if nr.NoWinner {
			return c.fallback(ctx, order, res)
		}
		res.Winner, res.WinningCost = nr.Winner, nr.WinningBid
	}

	ar, err := c.alloc.AssignTo(ctx, order, res.Winner, model.ReasonDispute)
	if err != nil {
		err = fmt.Errorf("award %s to %s: %w", order.ID, res.Winner, err)
		// A failed award keeps the current assignment. An order without one
		// waits for the next retry.
		if _, held := c.alloc.Active(order.ID); !held && ctx.Err() == nil {
			if qErr := c.enqueue(ctx, order.ID, err); qErr != nil {
				err = errors.Join(err, qErr)
			}
		}
		return res, err
	}
	res.Assignment = ar.Assignment
	c.setStatus(order.ID, model.OrderAssigned)
	c.dequeue(order.ID)
	c.publish(events.AssignmentEvent{Assignment: ar.Assignment})

	payload := assignmentPayload(order, ar)
	payload["winning_cost"] = res.WinningCost
	c.send(ctx, res.Winner, model.MsgAssignmentAwarded, payload)
	for _, id := range losers(agents, costs, res.Winner) {
		res.Losers = append(res.Losers, id)
		c.send(ctx, id, model.MsgAssignmentDenied, map[string]any{
			"order_id":     order.ID,
			"reason":       "higher_cost",
			"winning_cost": res.WinningCost,
		})
	}
	c.log.Infow("dispute resolved", map[string]any{"order_id": order.ID, "winner": res.Winner, "cost": res.WinningCost})
	return res, nil
}

func (c *Coordinator) fallback(ctx context.Context, order model.Order, res Resolution) (Resolution, error) {
	res.FellBack = true
	var (
		ar  dispatch.Result
		err error
	)
	if _, ok := c.alloc.Active(order.ID); ok {
		ar, err = c.alloc.Reassign(ctx, order, c.candidates(c.cfg.DeliveryType, ""), model.ReasonDispute)
		if err == nil {
			c.assigned(ctx, order, ar, model.MsgOrderAssignment, nil)
		} else if dispatch.IsRecoverable(err) {
			if qErr := c.enqueue(ctx, order.ID, err); qErr != nil {
				err = errors.Join(err, qErr)
			}
		}
	} else {
		ar, err = c.place(ctx, order)
	}
	if err != nil {
		return res, fmt.Errorf("dispute fallback for %s: %w", order.ID, errors.Join(negotiation.ErrNegotiationNoBids, err))
	}
	res.Winner = ar.Assignment.WorkerID
	res.Assignment = ar.Assignment
	return res, nil
}

func (c *Coordinator) negotiated(ctx context.Context, order model.Order, nr negotiation.Result) {
	c.publish(events.NegotiationEvent{
		SessionID: nr.SessionID, OrderID: order.ID, Winner: nr.Winner, WinningBid: nr.WinningBid, NoWinner: nr.NoWinner,
	})
	c.send(ctx, model.Broadcast, model.MsgNegotiationResult, nr.Payload(order.ID))
	if nrec, ok := c.metrics.(metrics.NegotiationRecorder); ok {
		if err := nrec.RecordNegotiation(metrics.NegotiationEvent{
			SessionID: nr.SessionID, OrderID: order.ID, Winner: nr.Winner, WinningBid: nr.WinningBid,
			Bids: len(nr.Bids), NoWinner: nr.NoWinner, Time: nr.ResolvedAt,
		}); err != nil {
			c.log.Errorf("metrics negotiation: %v", err)
		}
	}
}

// track records an order first seen through a dispute.
func (c *Coordinator) track(order model.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.orders[order.ID]; ok {
		return
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = c.now()
	}
	order.Status = model.OrderPending
	c.orders[order.ID] = &order
}

// losers lists every agent other than winner, from agents and costs, sorted
// and deduplicated.
func losers(agents []string, costs map[string]float64, winner string) []string {
	set := make(map[string]struct{}, len(agents)+len(costs))
	for _, a := range agents {
		set[a] = struct{}{}
	}
	for a := range costs {
		set[a] = struct{}{}
	}
	delete(set, winner)
	delete(set, "")
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
