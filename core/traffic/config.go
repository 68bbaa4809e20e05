package traffic

import (
	"fmt"
	"time"
)

// Config tunes the traffic monitor.
type Config struct {
	// Routes are sampled on every tick.
	Routes []string `json:"routes"`
	// IntervalSeconds is the refresh period.
	IntervalSeconds int `json:"interval_seconds"`
	// SampleTimeoutMS bounds each Source.Sample call.
	SampleTimeoutMS int `json:"sample_timeout_ms"`
	// Sender identifies the monitor in alert messages.
	Sender string `json:"sender"`
	// Source is "simulated" or "mqtt".
	Source string `json:"source"`
	// Seed and Jitter drive the simulated source.
	Seed   int64   `json:"seed"`
	Jitter float64 `json:"jitter"`
	// MaxReadingAgeSeconds is how long an MQTT reading stays usable.
	MaxReadingAgeSeconds int `json:"max_reading_age_seconds"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 10
	}
	if c.SampleTimeoutMS == 0 {
		c.SampleTimeoutMS = 2000
	}
	if c.Sender == "" {
		c.Sender = "traffic_monitor"
	}
	if c.Source == "" {
		c.Source = "simulated"
	}
	if c.Jitter == 0 {
		c.Jitter = 10
	}
	if c.MaxReadingAgeSeconds == 0 {
		c.MaxReadingAgeSeconds = 60
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("interval_seconds must be positive")
	}
	if c.SampleTimeoutMS < 0 {
		return fmt.Errorf("sample_timeout_ms must not be negative")
	}
	if c.Source != "simulated" && c.Source != "mqtt" {
		return fmt.Errorf("traffic.source must be simulated or mqtt, got %q", c.Source)
	}
	if c.Jitter < 0 || c.MaxReadingAgeSeconds < 0 {
		return fmt.Errorf("traffic jitter and max_reading_age_seconds must not be negative")
	}
	for i, r := range c.Routes {
		if r == "" {
			return fmt.Errorf("route %d is empty", i)
		}
	}
	return nil
}

func (c Config) Interval() time.Duration { return time.Duration(c.IntervalSeconds) * time.Second }

func (c Config) SampleTimeout() time.Duration {
	return time.Duration(c.SampleTimeoutMS) * time.Millisecond
}

func (c Config) MaxReadingAge() time.Duration {
	return time.Duration(c.MaxReadingAgeSeconds) * time.Second
}
