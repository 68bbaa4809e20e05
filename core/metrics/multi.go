package metrics

import "errors"

// MultiSink fans events out to several sinks. Every sink is tried; errors are
// joined.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func fanout[R any](sinks []Sink, call func(R) error) error {
	var errs []error
	for _, s := range sinks {
		if rec, ok := s.(R); ok {
			if err := call(rec); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordAssignment(ev AssignmentEvent) error {
	return fanout(m.Sinks, func(s Sink) error { return s.RecordAssignment(ev) })
}

func (m *MultiSink) RecordRejection(ev RejectionEvent) error {
	return fanout(m.Sinks, func(r RejectionRecorder) error { return r.RecordRejection(ev) })
}

func (m *MultiSink) RecordRedistribution(ev RedistributionEvent) error {
	return fanout(m.Sinks, func(r RedistributionRecorder) error { return r.RecordRedistribution(ev) })
}

func (m *MultiSink) RecordNegotiation(ev NegotiationEvent) error {
	return fanout(m.Sinks, func(r NegotiationRecorder) error { return r.RecordNegotiation(ev) })
}

func (m *MultiSink) RecordTraffic(ev TrafficEvent) error {
	return fanout(m.Sinks, func(r TrafficRecorder) error { return r.RecordTraffic(ev) })
}

func (m *MultiSink) RecordAlert(ev AlertEvent) error {
	return fanout(m.Sinks, func(r AlertRecorder) error { return r.RecordAlert(ev) })
}

func (m *MultiSink) RecordDelivery(ev DeliveryEvent) error {
	return fanout(m.Sinks, func(r DeliveryRecorder) error { return r.RecordDelivery(ev) })
}

func (m *MultiSink) RecordFleet(active, unresponsive, pending int) error {
	return fanout(m.Sinks, func(r FleetRecorder) error { return r.RecordFleet(active, unresponsive, pending) })
}
