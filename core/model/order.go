package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidOrder is returned when an order fails numeric sanity checks.
var ErrInvalidOrder = errors.New("invalid order")

// OrderStatus tracks the lifecycle of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderAssigned  OrderStatus = "assigned"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Distance returns the Euclidean distance in degree units. Road geometry is
// not modelled.
func (l Location) Distance(o Location) float64 {
	return math.Hypot(l.Lat-o.Lat, l.Lng-o.Lng)
}

// Order is a delivery request. Only Status changes after creation.
type Order struct {
	ID        string      `json:"id"`
	Pickup    *Location   `json:"pickup"`
	Delivery  *Location   `json:"delivery"`
	Weight    float64     `json:"weight"`
	Urgency   int         `json:"urgency,omitempty"`
	Notes     string      `json:"notes,omitempty"`
	Route     string      `json:"route,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Status    OrderStatus `json:"status,omitempty"`
}

// Validate checks the order at the system boundary. Geocoding correctness is
// not verified.
func (o Order) Validate() error {
	switch {
	case o.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidOrder)
	case o.Weight <= 0 || math.IsNaN(o.Weight) || math.IsInf(o.Weight, 0):
		return fmt.Errorf("%w: weight must be positive, got %v", ErrInvalidOrder, o.Weight)
	case o.Pickup == nil:
		return fmt.Errorf("%w: missing pickup location", ErrInvalidOrder)
	case o.Delivery == nil:
		return fmt.Errorf("%w: missing delivery location", ErrInvalidOrder)
	}
	return nil
}

// UrgencyLevel returns the urgency tier clamped to 1..5.
func (o Order) UrgencyLevel() int {
	switch {
	case o.Urgency <= 0:
		return 1
	case o.Urgency > 5:
		return 5
	}
	return o.Urgency
}

// Distance is the pickup to delivery distance, or 0 when a location is missing.
func (o Order) Distance() float64 {
	if o.Pickup == nil || o.Delivery == nil {
		return 0
	}
	return o.Pickup.Distance(*o.Delivery)
}

// RouteID returns the explicit route or one derived from rounded coordinates.
func (o Order) RouteID() string {
	if o.Route != "" {
		return o.Route
	}
	if o.Pickup == nil || o.Delivery == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.2f,%.2f->%.2f,%.2f", o.Pickup.Lat, o.Pickup.Lng, o.Delivery.Lat, o.Delivery.Lng)
}
