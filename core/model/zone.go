package model

import (
	"fmt"
	"time"
)

// Tier classifies a zone by load priority. Lower values shed last.
type Tier int

const (
	TierCritical Tier = iota
	TierSemiCritical
	TierNonCritical
	TierDeferrable
)

// String returns a human-readable representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierSemiCritical:
		return "semi-critical"
	case TierNonCritical:
		return "non-critical"
	case TierDeferrable:
		return "deferrable"
	default:
		return "unknown"
	}
}

// ShedOrder lists tiers in the order they are shed when capacity or the
// safety margin forces reduction. Critical is shed only under a battery
// emergency.
var ShedOrder = []Tier{TierDeferrable, TierNonCritical, TierSemiCritical, TierCritical}

// RelayState is the switch position of a zone relay.
type RelayState int

const (
	RelayOff RelayState = iota
	RelayOn
)

func (s RelayState) String() string {
	if s == RelayOn {
		return "ON"
	}
	return "OFF"
}

// Role identifies who issued a manual override.
type Role int

const (
	RoleHousehold Role = iota
	RoleAdmin
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "household"
}

// Reading is one telemetry snapshot for a zone as received from the field.
type Reading struct {
	BatteryVoltage    float64   `json:"battery_voltage"`
	InputPower        float64   `json:"input_power"`
	OutputPower       float64   `json:"output_power"`
	SolarGeneration   float64   `json:"solar_generation"`
	BatteryPercentage float64   `json:"battery_percentage"`
	RelayState        RelayState `json:"relay_state"`
	Timestamp         time.Time `json:"timestamp"`
}

// PendingCommand tracks an issued relay command awaiting acknowledgment.
type PendingCommand struct {
	ID       string
	Target   RelayState
	IssuedAt time.Time
	Retries  int
}

// Override is a manual relay request from an admin or household user.
// It expires and is consumed by the next decision cycle.
type Override struct {
	Requested RelayState
	Issuer    Role
	Expiry    time.Time
}

// Active reports whether the override is still in effect at t.
func (o *Override) Active(t time.Time) bool {
	return o != nil && t.Before(o.Expiry)
}

// Zone is an independently switchable load segment of the microgrid.
type Zone struct {
	ID         string
	Name       string
	Tier       Tier
	LifeSafety bool // critical zone whose failure warrants notifying authorities

	Reading Reading
	Relay   RelayState

	Pending  *PendingCommand
	Override *Override
	LastAck  time.Time
}

// Load returns the measured power draw of the zone in watts.
func (z Zone) Load() float64 { return z.Reading.OutputPower }

// Efficiency scores how well the zone converts input power, normalized to
// a healthy 12.6V battery. Zones without input power score zero.
func (z Zone) Efficiency() float64 {
	in := z.Reading.InputPower
	if in <= 0 {
		return 0
	}
	power := z.Reading.OutputPower / in
	if power > 1 {
		power = 1
	}
	voltage := z.Reading.BatteryVoltage / 12.6
	if voltage > 1 {
		voltage = 1
	}
	return power*0.7 + voltage*0.3
}

// Validate checks that the zone configuration is sound.
func (z Zone) Validate() error {
	if z.ID == "" {
		return fmt.Errorf("zone id must not be empty")
	}
	if z.Tier < TierCritical || z.Tier > TierDeferrable {
		return fmt.Errorf("zone %s: unknown tier %d", z.ID, z.Tier)
	}
	return nil
}
