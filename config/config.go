// Package config loads the optiroute configuration from a YAML or JSON file
// with OPTIROUTE_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/optiroute/core/coordinator"
	"github.com/kilianp07/optiroute/core/dispatch"
	"github.com/kilianp07/optiroute/core/factory"
	"github.com/kilianp07/optiroute/core/journal"
	"github.com/kilianp07/optiroute/core/metrics"
	"github.com/kilianp07/optiroute/core/negotiation"
	"github.com/kilianp07/optiroute/core/prediction"
	"github.com/kilianp07/optiroute/core/traffic"
	"github.com/kilianp07/optiroute/infra/logger"
	"github.com/kilianp07/optiroute/infra/monitoring"
	"github.com/kilianp07/optiroute/infra/mqtt"
	"github.com/kilianp07/optiroute/jobs"
)

// EnvPrefix marks the environment variables that override the file.
// OPTIROUTE_DISPATCH__DISTANCE_DECAY sets dispatch.distance_decay.
const EnvPrefix = "OPTIROUTE_"

type Config struct {
	Coordinator coordinator.Config      `json:"coordinator"`
	Dispatch    dispatch.Config         `json:"dispatch"`
	Negotiation negotiation.Config      `json:"negotiation"`
	Prediction  prediction.Config       `json:"prediction"`
	Traffic     traffic.Config          `json:"traffic"`
	Jobs        jobs.Config             `json:"jobs"`
	Journal     journal.Config          `json:"journal"`
	Metrics     metrics.Config          `json:"metrics"`
	Notifiers   []factory.ModuleConfig  `json:"notifiers"`
	MQTT        mqtt.Config             `json:"mqtt"`
	Sentry      monitoring.SentryConfig `json:"sentry"`
	Logging     logger.Options          `json:"logging"`
	Fleet       FleetConfig             `json:"fleet"`
}

// Load reads path, applies the environment overrides, fills defaults and
// validates the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills the unset fields of every section.
func (c *Config) SetDefaults() {
	c.Coordinator.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Negotiation.SetDefaults()
	c.Prediction.SetDefaults()
	c.Traffic.SetDefaults()
	c.Jobs.SetDefaults()
	c.Fleet.SetDefaults()
}

// Validate checks every section and joins the errors.
func (c Config) Validate() error {
	errs := []error{
		c.Coordinator.Validate(),
		c.Dispatch.Validate(),
		c.Negotiation.Validate(),
		c.Prediction.Validate(),
		c.Traffic.Validate(),
		c.Jobs.Validate(),
		c.Journal.Validate(),
		c.Logging.Validate(),
		c.Fleet.Validate(),
	}
	for i, n := range c.Notifiers {
		if n.Type == "" {
			errs = append(errs, fmt.Errorf("notifiers[%d]: type is required", i))
		}
	}
	return errors.Join(errs...)
}
