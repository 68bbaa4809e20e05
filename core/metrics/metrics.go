package metrics

import "time"

// AssignmentEvent records a successful allocation.
type AssignmentEvent struct {
	OrderID    string
	WorkerID   string
	Reason     string
	Score      float64
	Candidates int
	Latency    time.Duration
	Time       time.Time
}

// Sink records allocation results.
type Sink interface {
	RecordAssignment(ev AssignmentEvent) error
}

// RejectionEvent records an order that could not be placed.
type RejectionEvent struct {
	OrderID string
	Reason  string
	Time    time.Time
}

// RejectionRecorder records allocation failures.
type RejectionRecorder interface {
	RecordRejection(ev RejectionEvent) error
}

// RedistributionEvent records the outcome of moving an order away from a
// failed worker.
type RedistributionEvent struct {
	OrderID      string
	FailedWorker string
	NewWorker    string
	Success      bool
	Time         time.Time
}

// RedistributionRecorder records redistribution attempts.
type RedistributionRecorder interface {
	RecordRedistribution(ev RedistributionEvent) error
}

// NegotiationEvent summarises a resolved negotiation.
type NegotiationEvent struct {
	SessionID  string
	OrderID    string
	Winner     string
	WinningBid float64
	Bids       int
	NoWinner   bool
	Time       time.Time
}

// NegotiationRecorder records negotiation outcomes.
type NegotiationRecorder interface {
	RecordNegotiation(ev NegotiationEvent) error
}

// TrafficEvent is one traffic observation together with the resulting
// prediction.
type TrafficEvent struct {
	Route      string
	Observed   float64
	Predicted  float64
	Confidence float64
	Status     string
	Time       time.Time
}

// TrafficRecorder records traffic observations.
type TrafficRecorder interface {
	RecordTraffic(ev TrafficEvent) error
}

// AlertEvent records a raised traffic alert.
type AlertEvent struct {
	Route string
	Kind  string
	Level float64
	Time  time.Time
}

// AlertRecorder records traffic alerts.
type AlertRecorder interface {
	RecordAlert(ev AlertEvent) error
}

// DeliveryEvent records a finished delivery.
type DeliveryEvent struct {
	OrderID  string
	WorkerID string
	Success  bool
	Minutes  float64
	Time     time.Time
}

// DeliveryRecorder records delivery outcomes.
type DeliveryRecorder interface {
	RecordDelivery(ev DeliveryEvent) error
}

// FleetRecorder records the registry composition.
type FleetRecorder interface {
	RecordFleet(active, unresponsive, pending int) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordAssignment(AssignmentEvent) error         { return nil }
func (NopSink) RecordRejection(RejectionEvent) error           { return nil }
func (NopSink) RecordRedistribution(RedistributionEvent) error { return nil }
func (NopSink) RecordNegotiation(NegotiationEvent) error       { return nil }
func (NopSink) RecordTraffic(TrafficEvent) error               { return nil }
func (NopSink) RecordAlert(AlertEvent) error                   { return nil }
func (NopSink) RecordDelivery(DeliveryEvent) error             { return nil }
func (NopSink) RecordFleet(int, int, int) error                { return nil }
