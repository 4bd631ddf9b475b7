package scheduler

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config defines the cycle cadence.
type Config struct {
	// CycleMinutes is the period of the automatic decision cycle.
	CycleMinutes int `json:"cycle_minutes" yaml:"cycle_minutes"`
	// MaxSkips bounds how many ticks may be skipped while a previous
	// dispatch phase is still running before the scheduler waits for it.
	MaxSkips int `json:"max_skips" yaml:"max_skips"`
	// StaleMinutes is the telemetry freshness window checked each cycle.
	StaleMinutes int `json:"stale_minutes" yaml:"stale_minutes"`
}

// SetDefaults applies the five minute default cadence.
func (c *Config) SetDefaults() {
	if c.CycleMinutes == 0 {
		c.CycleMinutes = 5
	}
	if c.MaxSkips == 0 {
		c.MaxSkips = 3
	}
	if c.StaleMinutes == 0 {
		c.StaleMinutes = 10
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.CycleMinutes <= 0 {
		return fmt.Errorf("cycle_minutes must be positive")
	}
	if c.MaxSkips < 1 {
		return fmt.Errorf("max_skips must be at least 1")
	}
	return nil
}

// DecodeConfig reads from r to decode a Config in yaml or json form.
func DecodeConfig(r io.Reader, format string) (Config, error) {
	var cfg Config
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
			return cfg, err
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported format: %s", format)
	}
	return cfg, nil
}
