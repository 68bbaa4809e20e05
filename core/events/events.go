package events

import (
	"time"

	"github.com/kilianp07/optiroute/core/model"
)

// Event is implemented by every event type.
type Event interface {
	EventKind() string
}

// AssignmentEvent is published when an order is placed on a worker.
type AssignmentEvent struct {
	Assignment model.Assignment
}

func (AssignmentEvent) EventKind() string { return "assignment" }

// RedistributionEvent is published for each order taken from a failed
// worker. NewWorker is empty when the order could not be placed.
type RedistributionEvent struct {
	OrderID      string
	FailedWorker string
	NewWorker    string
	Err          error
}

func (RedistributionEvent) EventKind() string { return "redistribution" }

// PendingEvent is published when an order joins the pending queue.
type PendingEvent struct {
	OrderID string
	Err     error
	Queued  int
}

func (PendingEvent) EventKind() string { return "pending" }

// DeliveryEvent is published when a worker reports the outcome of an order.
type DeliveryEvent struct {
	OrderID  string
	WorkerID string
	Success  bool
	Minutes  float64
}

func (DeliveryEvent) EventKind() string { return "delivery" }

// WorkerStatusEvent is published when a worker changes state.
// Action is one of "registered", "unresponsive" or "reactivated".
type WorkerStatusEvent struct {
	WorkerID string
	Action   string
	Time     time.Time
}

func (WorkerStatusEvent) EventKind() string { return "worker_status" }

// NegotiationEvent is published when a session resolves.
type NegotiationEvent struct {
	SessionID  string
	OrderID    string
	Winner     string
	WinningBid float64
	NoWinner   bool
}

func (NegotiationEvent) EventKind() string { return "negotiation" }
