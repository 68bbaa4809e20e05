package coordinator

import (
	"fmt"
	"time"
)

// Config tunes the coordinator.
type Config struct {
	// ID is the sender of every coordinator message.
	ID string `json:"id"`
	// DeliveryType restricts Submit to workers of this type. Empty accepts
	// every type.
	DeliveryType string `json:"delivery_type"`
	// LivenessTimeoutSeconds is the heartbeat age after which a worker is
	// considered lost.
	LivenessTimeoutSeconds int `json:"liveness_timeout_seconds"`
	// PingTimeoutMS bounds the probe sent to a stale worker.
	PingTimeoutMS int `json:"ping_timeout_ms"`
	// AutoRedistribute moves the orders of a lost worker right away.
	AutoRedistribute *bool `json:"auto_redistribute"`
	// DefaultMinutes is recorded when a completion reports no duration.
	DefaultMinutes float64 `json:"default_minutes"`
	// FailureMinutes is recorded for every failed delivery.
	FailureMinutes float64 `json:"failure_minutes"`
	// MaxPending caps the pending queue.
	MaxPending int `json:"max_pending"`
	// RetainFinished is the number of completed or failed orders kept for
	// lookup.
	RetainFinished int `json:"retain_finished"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ID == "" {
		c.ID = "coordinator"
	}
	if c.LivenessTimeoutSeconds == 0 {
		c.LivenessTimeoutSeconds = 30
	}
	if c.PingTimeoutMS == 0 {
		c.PingTimeoutMS = 1000
	}
	if c.AutoRedistribute == nil {
		v := true
		c.AutoRedistribute = &v
	}
	if c.DefaultMinutes == 0 {
		c.DefaultMinutes = 30
	}
	if c.FailureMinutes == 0 {
		c.FailureMinutes = 60
	}
	if c.MaxPending == 0 {
		c.MaxPending = 1000
	}
	if c.RetainFinished == 0 {
		c.RetainFinished = 1000
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.LivenessTimeoutSeconds <= 0 {
		return fmt.Errorf("coordinator.liveness_timeout_seconds must be positive")
	}
	if c.PingTimeoutMS < 0 {
		return fmt.Errorf("coordinator.ping_timeout_ms must not be negative")
	}
	if c.DefaultMinutes < 0 || c.FailureMinutes < 0 {
		return fmt.Errorf("coordinator minutes must not be negative")
	}
	if c.MaxPending <= 0 {
		return fmt.Errorf("coordinator.max_pending must be positive")
	}
	if c.RetainFinished <= 0 {
		return fmt.Errorf("coordinator.retain_finished must be positive")
	}
	return nil
}

// LivenessTimeout returns the heartbeat timeout.
func (c Config) LivenessTimeout() time.Duration {
	return time.Duration(c.LivenessTimeoutSeconds) * time.Second
}

// PingTimeout returns the probe timeout.
func (c Config) PingTimeout() time.Duration {
	return time.Duration(c.PingTimeoutMS) * time.Millisecond
}
