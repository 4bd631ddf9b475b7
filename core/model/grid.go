package model

import (
	"sort"
	"time"
)

// SafetyMargin is the fraction of total capacity committed load must stay
// below after every decision.
const SafetyMargin = 0.90

// Battery thresholds in percent of overall charge.
const (
	BatteryCriticalThreshold = 10.0 // below: only Critical zones stay energized
	BatteryRecoverThreshold  = 15.0 // hysteresis: emergency clears above this
	BatteryLowThreshold      = 20.0 // below: conservation mode, stricter admission
)

// GridState is an immutable aggregate snapshot of the grid taken from the
// registry. Engine components operate on it and never mutate live state.
type GridState struct {
	Zones     []Zone
	Battery   float64 // overall battery percentage, 0-100
	Capacity  float64 // total available input power in watts
	TakenAt   time.Time
}

// Zone returns the zone with the given id, if present.
func (g GridState) Zone(id string) (Zone, bool) {
	for _, z := range g.Zones {
		if z.ID == id {
			return z, true
		}
	}
	return Zone{}, false
}

// TotalLoad sums the measured load of zones whose relay is currently on.
func (g GridState) TotalLoad() float64 {
	var total float64
	for _, z := range g.Zones {
		if z.Relay == RelayOn {
			total += z.Load()
		}
	}
	return total
}

// ByTier returns zone ids of the given tier in ascending id order, the
// deterministic tie-break used by the decision engine.
func (g GridState) ByTier(t Tier) []Zone {
	var out []Zone
	for _, z := range g.Zones {
		if z.Tier == t {
			out = append(out, z)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
