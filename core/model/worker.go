package model

import "time"

// WorkerStatus is the liveness state of a registered worker.
type WorkerStatus string

const (
	WorkerActive       WorkerStatus = "active"
	WorkerUnresponsive WorkerStatus = "unresponsive"
)

// WorkerProfile is the registry view of a worker. Load is only changed by the
// allocator and coordinator.
type WorkerProfile struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Capabilities []string     `json:"capabilities,omitempty"`
	VehicleClass string       `json:"vehicle_class,omitempty"`
	Capacity     float64      `json:"capacity"`
	Load         float64      `json:"load"`
	Location     *Location    `json:"location,omitempty"`
	Status       WorkerStatus `json:"status"`
	LastSeen     time.Time    `json:"last_seen"`
	RegisteredAt time.Time    `json:"registered_at"`
}

// Free returns the remaining capacity; ok is false when capacity is unknown.
func (w WorkerProfile) Free() (free float64, ok bool) {
	if w.Capacity <= 0 {
		return 0, false
	}
	return w.Capacity - w.Load, true
}

// Fits reports whether weight can be added without exceeding capacity.
func (w WorkerProfile) Fits(weight float64) bool {
	if w.Capacity <= 0 {
		return true
	}
	return w.Load+weight <= w.Capacity
}

// Active reports whether the worker is eligible for new work.
func (w WorkerProfile) Active() bool { return w.Status == WorkerActive }

// HasCapability reports whether c is in the capability list.
func (w WorkerProfile) HasCapability(c string) bool {
	for _, v := range w.Capabilities {
		if v == c {
			return true
		}
	}
	return false
}
