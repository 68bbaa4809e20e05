package model

import "time"

// AssignmentReason records why an assignment was created.
type AssignmentReason string

const (
	ReasonInitial        AssignmentReason = "initial"
	ReasonRedistribution AssignmentReason = "redistribution"
	ReasonDispute        AssignmentReason = "dispute"
	ReasonManual         AssignmentReason = "manual"
)

// Assignment binds an order to a worker. Reassignment supersedes the previous
// value instead of mutating it.
type Assignment struct {
	ID         string           `json:"id"`
	OrderID    string           `json:"order_id"`
	WorkerID   string           `json:"worker_id"`
	Weight     float64          `json:"weight"`
	AssignedAt time.Time        `json:"assigned_at"`
	Score      float64          `json:"score"`
	Reason     AssignmentReason `json:"reason"`
	Superseded bool             `json:"superseded"`
}

// PerformanceRecord accumulates the delivery outcomes of one worker.
type PerformanceRecord struct {
	Total          int     `json:"total"`
	Successful     int     `json:"successful"`
	CumulativeTime float64 `json:"cumulative_time"`
}

// SuccessRate returns Successful/Total, or 0 without history.
func (p PerformanceRecord) SuccessRate() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Successful) / float64(p.Total)
}

// AverageTime returns the mean delivery time in minutes.
func (p PerformanceRecord) AverageTime() float64 {
	if p.Total == 0 {
		return 0
	}
	return p.CumulativeTime / float64(p.Total)
}
