package config

import (
	"fmt"

	"github.com/okellodev/microgrid/core/model"
)

// ZoneConfig declares one controllable zone.
type ZoneConfig struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Tier       string `json:"tier"`
	LifeSafety bool   `json:"life_safety"`
}

// Validate checks mandatory fields.
func (z ZoneConfig) Validate() error {
	if z.ID == "" {
		return fmt.Errorf("zone id is required")
	}
	if _, err := ParseTier(z.Tier); err != nil {
		return fmt.Errorf("zone %s: %w", z.ID, err)
	}
	return nil
}

// Zone converts the declaration into the engine model.
func (z ZoneConfig) Zone() model.Zone {
	tier, _ := ParseTier(z.Tier)
	return model.Zone{
		ID:         z.ID,
		Name:       z.Name,
		Tier:       tier,
		LifeSafety: z.LifeSafety,
	}
}

// ParseTier maps a tier name to its model value.
func ParseTier(s string) (model.Tier, error) {
	switch s {
	case "critical":
		return model.TierCritical, nil
	case "semi-critical":
		return model.TierSemiCritical, nil
	case "non-critical":
		return model.TierNonCritical, nil
	case "deferrable":
		return model.TierDeferrable, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", s)
	}
}

// DefaultZones is the four-zone layout used when no zones are configured.
func DefaultZones() []ZoneConfig {
	return []ZoneConfig{
		{ID: "Zone1", Name: "Hospital/Emergency", Tier: "critical", LifeSafety: true},
		{ID: "Zone2", Name: "Street Lights", Tier: "semi-critical"},
		{ID: "Zone3", Name: "Entertainment", Tier: "non-critical"},
		{ID: "Zone4", Name: "Water Pumps", Tier: "deferrable"},
	}
}

// ModelZones converts all declarations into engine zones.
func (c *Config) ModelZones() []model.Zone {
	zones := make([]model.Zone, 0, len(c.Zones))
	for _, z := range c.Zones {
		zones = append(zones, z.Zone())
	}
	return zones
}
