package journal

import (
	"context"
	"errors"
	"fmt"
)

// Target re-applies journal records to rebuild state.
type Target interface {
	Apply(ctx context.Context, rec Record) error
}

// Replay reads every record matching q from store, oldest first, and applies
// it to target. A failing record does not stop the replay; errors are joined.
// It returns the number of records applied without error.
func Replay(ctx context.Context, store Store, target Target, q Query) (int, error) {
	recs, err := store.Query(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("query journal: %w", err)
	}
	var errs []error
	n := 0
	for i, r := range recs {
		if err := ctx.Err(); err != nil {
			return n, errors.Join(append(errs, err)...)
		}
		if err := target.Apply(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("record %d (%s): %w", i, r.Kind, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Config selects the journal backend.
type Config struct {
	// Type is "memory", "jsonl" or "rotating". Empty disables the journal.
	Type       string `json:"type"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Validate reports invalid settings.
func (c Config) Validate() error {
	switch c.Type {
	case "", "memory":
		return nil
	case "jsonl", "rotating":
		if c.Path == "" {
			return fmt.Errorf("journal path required for %s", c.Type)
		}
		return nil
	}
	return fmt.Errorf("unknown journal type %q", c.Type)
}

// Open creates the configured store. It returns nil when the journal is
// disabled.
func Open(c Config) (Store, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "jsonl":
		return NewJSONLStore(c.Path)
	case "rotating":
		size := c.MaxSizeMB
		if size <= 0 {
			size = 50
		}
		return NewRotatingStore(c.Path, size, c.MaxBackups, c.MaxAgeDays)
	}
	return nil, nil
}
