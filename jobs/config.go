package jobs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds the job schedules in cron syntax with an optional seconds
// field. Descriptors such as "@every 10s" are accepted. "-" disables the
// job.
type Config struct {
	Liveness    string `json:"liveness"`
	Pending     string `json:"pending"`
	Negotiation string `json:"negotiation"`
	// TimeoutSeconds bounds every run.
	TimeoutSeconds int `json:"timeout_seconds"`
	// Disabled turns the scheduler off entirely.
	Disabled bool `json:"disabled"`
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Liveness == "" {
		c.Liveness = "@every 10s"
	}
	if c.Pending == "" {
		c.Pending = "@every 5s"
	}
	if c.Negotiation == "" {
		c.Negotiation = "@every 1s"
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
}

// Validate parses every schedule.
func (c Config) Validate() error {
	for name, spec := range map[string]string{"liveness": c.Liveness, "pending": c.Pending, "negotiation": c.Negotiation} {
		if spec == "" || spec == "-" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("jobs.%s: %w", name, err)
		}
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("jobs.timeout_seconds must not be negative")
	}
	return nil
}

func (c Config) Timeout() time.Duration { return time.Duration(c.TimeoutSeconds) * time.Second }
