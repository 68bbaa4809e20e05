// Package jobs runs the periodic maintenance of the dispatch core on a cron
// scheduler.
//
// Three jobs are registered by Manager:
//
//  1. liveness marks workers without heartbeat as lost and redistributes
//     their orders
//  2. pending retries the orders waiting for a worker
//  3. negotiation resolves bid sessions whose window has closed
//
// Each run gets its own timeout. Overlapping runs of the same job are
// skipped and panics are recovered and logged.
package jobs
