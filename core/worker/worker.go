// Package worker defines the capabilities a delivery worker may expose to the
// dispatch core.
//
// Only ID is mandatory. Every other capability is an optional interface that
// the core detects with a type assertion; a worker lacking one gets the
// documented neutral behaviour instead of an error:
//
//	CostQuoter        no bid is placed in negotiations
//	Locator           distance sub-score 50
//	CapacityReporter  capacity taken from registration (unknown means unbounded)
//	OrderAcceptor     orders are accepted
//	Pinger            liveness relies on heartbeats only
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/optiroute/core/model"
)

// ErrNoQuote is returned when a worker cannot quote a cost.
var ErrNoQuote = errors.New("worker does not quote costs")

// Worker is any entity able to fulfil orders.
type Worker interface {
	ID() string
}

// CostQuoter prices an order.
type CostQuoter interface {
	QuoteCost(ctx context.Context, order model.Order) (float64, error)
}

// Locator reports the current position of a worker.
type Locator interface {
	CurrentLocation() (model.Location, bool)
}

// CapacityReporter reports how much weight the worker can still take.
type CapacityReporter interface {
	RemainingCapacity() float64
}

// OrderAcceptor lets a worker decline an order.
type OrderAcceptor interface {
	AcceptOrder(ctx context.Context, order model.Order) (bool, error)
}

// Pinger answers liveness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LocationOf returns the worker location when it implements Locator.
func LocationOf(w Worker) (model.Location, bool) {
	if l, ok := w.(Locator); ok {
		return l.CurrentLocation()
	}
	return model.Location{}, false
}

// RemainingCapacityOf returns the reported remaining capacity.
func RemainingCapacityOf(w Worker) (float64, bool) {
	if c, ok := w.(CapacityReporter); ok {
		return c.RemainingCapacity(), true
	}
	return 0, false
}

// QuoteWithTimeout asks for a quote bounded by timeout. Non finite or negative
// quotes are rejected.
func QuoteWithTimeout(ctx context.Context, w Worker, order model.Order, timeout time.Duration) (float64, error) {
	q, ok := w.(CostQuoter)
	if !ok {
		return 0, ErrNoQuote
	}
	v, err := callWithTimeout(ctx, timeout, func(ctx context.Context) (float64, error) {
		return q.QuoteCost(ctx, order)
	})
	if err != nil {
		return 0, fmt.Errorf("quote from %s: %w", w.ID(), err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("quote from %s: invalid value %v", w.ID(), v)
	}
	return v, nil
}

// AcceptWithTimeout offers the order to the worker. Workers without an
// OrderAcceptor always accept.
func AcceptWithTimeout(ctx context.Context, w Worker, order model.Order, timeout time.Duration) (bool, error) {
	a, ok := w.(OrderAcceptor)
	if !ok {
		return true, nil
	}
	return callWithTimeout(ctx, timeout, func(ctx context.Context) (bool, error) {
		return a.AcceptOrder(ctx, order)
	})
}

// PingWithTimeout probes the worker. ok is false when it has no Pinger.
func PingWithTimeout(ctx context.Context, w Worker, timeout time.Duration) (ok bool, err error) {
	p, has := w.(Pinger)
	if !has {
		return false, nil
	}
	_, err = callWithTimeout(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.Ping(ctx)
	})
	return true, err
}

// callWithTimeout runs fn in a goroutine so a worker ignoring its context
// cannot block the caller past the deadline.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Static is a plain worker with fixed attributes. It is handy for tests and
// for registering workers known only by their profile.
type Static struct {
	WorkerID string
	Location *model.Location
	Cost     *float64
}

func (s Static) ID() string { return s.WorkerID }

// CurrentLocation implements Locator.
func (s Static) CurrentLocation() (model.Location, bool) {
	if s.Location == nil {
		return model.Location{}, false
	}
	return *s.Location, true
}

// QuoteCost implements CostQuoter; without a configured cost it returns ErrNoQuote.
func (s Static) QuoteCost(context.Context, model.Order) (float64, error) {
	if s.Cost == nil {
		return 0, ErrNoQuote
	}
	return *s.Cost, nil
}
