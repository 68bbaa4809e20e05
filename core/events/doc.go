// Package events defines the dispatch events published on the in-process
// event bus.
//
// Available event types:
//   - AssignmentEvent: an order was placed on a worker
//   - RedistributionEvent: an order was moved away from a failed worker
//   - PendingEvent: an order was queued because no worker could take it
//   - DeliveryEvent: a worker completed or failed an order
//   - WorkerStatusEvent: a worker was registered, lost or recovered
//   - NegotiationEvent: a negotiation session resolved
package events
