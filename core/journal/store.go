// Package journal persists coordinator events so that in-memory state can be
// rebuilt after a restart.
package journal

import (
	"context"
	"time"

	"github.com/kilianp07/optiroute/core/model"
)

// Kind identifies a journal record.
type Kind string

const (
	KindWorkerRegistered Kind = "worker_registered"
	KindOrderSubmitted   Kind = "order_submitted"
	KindOrderCompleted   Kind = "order_completed"
	KindOrderFailed      Kind = "order_failed"
	KindTrafficObserved  Kind = "traffic_observed"
)

// Record captures one state changing event.
type Record struct {
	Timestamp time.Time            `json:"timestamp"`
	Kind      Kind                 `json:"kind"`
	Worker    *model.WorkerProfile `json:"worker,omitempty"`
	Order     *model.Order         `json:"order,omitempty"`
	OrderID   string               `json:"order_id,omitempty"`
	WorkerID  string               `json:"worker_id,omitempty"`
	Minutes   float64              `json:"minutes,omitempty"`
	Route     string               `json:"route,omitempty"`
	Level     float64              `json:"level,omitempty"`
}

// Query defines filters for retrieving records. Zero fields match all.
type Query struct {
	Start    time.Time
	End      time.Time
	Kinds    []Kind
	OrderID  string
	WorkerID string
}

// Match reports whether r passes the filters.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if len(q.Kinds) > 0 {
		found := false
		for _, k := range q.Kinds {
			if k == r.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.OrderID != "" && r.OrderID != q.OrderID && (r.Order == nil || r.Order.ID != q.OrderID) {
		return false
	}
	if q.WorkerID != "" && r.WorkerID != q.WorkerID && (r.Worker == nil || r.Worker.ID != q.WorkerID) {
		return false
	}
	return true
}

// Store persists records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}
