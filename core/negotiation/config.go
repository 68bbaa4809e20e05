package negotiation

import (
	"fmt"
	"time"
)

// Config tunes bid collection.
type Config struct {
	// WindowMS is the bid collection window. Zero resolves right after the
	// initial quotes are in.
	WindowMS int `json:"window_ms"`
	// QuoteTimeoutMS bounds each worker quote.
	QuoteTimeoutMS int `json:"quote_timeout_ms"`
	// MaxConcurrentQuotes limits the quote fan-out.
	MaxConcurrentQuotes int `json:"max_concurrent_quotes"`
	// RetainResolved is the number of resolved sessions kept for lookup.
	RetainResolved int `json:"retain_resolved"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.QuoteTimeoutMS == 0 {
		c.QuoteTimeoutMS = 2000
	}
	if c.MaxConcurrentQuotes == 0 {
		c.MaxConcurrentQuotes = 16
	}
	if c.RetainResolved == 0 {
		c.RetainResolved = 1000
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.WindowMS < 0 {
		return fmt.Errorf("negotiation.window_ms must not be negative")
	}
	if c.QuoteTimeoutMS <= 0 {
		return fmt.Errorf("negotiation.quote_timeout_ms must be positive")
	}
	if c.MaxConcurrentQuotes <= 0 {
		return fmt.Errorf("negotiation.max_concurrent_quotes must be positive")
	}
	if c.RetainResolved <= 0 {
		return fmt.Errorf("negotiation.retain_resolved must be positive")
	}
	return nil
}

// Window returns the collection window.
func (c Config) Window() time.Duration { return time.Duration(c.WindowMS) * time.Millisecond }

// QuoteTimeout returns the per-quote timeout.
func (c Config) QuoteTimeout() time.Duration {
	return time.Duration(c.QuoteTimeoutMS) * time.Millisecond
}
