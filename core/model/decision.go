package model

import "time"

// Window is a scheduled activation window for a deferrable zone.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Target is the decided relay state for one zone, with an optional
// activation window for deferrable zones.
type Target struct {
	State    RelayState `json:"state"`
	Window   *Window    `json:"window,omitempty"`
	Override bool       `json:"override,omitempty"` // set by an accepted manual override
}

// ShedReason distinguishes why a zone was turned off.
type ShedReason int

const (
	ShedGreedy ShedReason = iota // excluded during the greedy pass
	ShedRebalance                // removed by the load balancer
	ShedEmergency                // forced off by the emergency controller
)

func (r ShedReason) String() string {
	switch r {
	case ShedGreedy:
		return "greedy"
	case ShedRebalance:
		return "rebalance"
	case ShedEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Shed records one zone turned off to satisfy capacity or safety invariants.
type Shed struct {
	ZoneID string     `json:"zone_id"`
	Tier   Tier       `json:"tier"`
	Reason ShedReason `json:"reason"`
}

// Decision is the per-cycle output of the engine: a target relay state per
// zone. It is immutable once produced and superseded each cycle.
type Decision struct {
	Targets   map[string]Target `json:"targets"`
	Shed      []Shed            `json:"shed,omitempty"`
	Emergency bool              `json:"emergency,omitempty"` // produced by emergency preemption
	Timestamp time.Time         `json:"timestamp"`
}

// NewDecision returns an empty decision stamped at t.
func NewDecision(t time.Time) Decision {
	return Decision{Targets: make(map[string]Target), Timestamp: t}
}

// Clone returns a deep copy so validators can adjust without aliasing the
// original.
func (d Decision) Clone() Decision {
	cp := Decision{
		Targets:   make(map[string]Target, len(d.Targets)),
		Shed:      append([]Shed(nil), d.Shed...),
		Emergency: d.Emergency,
		Timestamp: d.Timestamp,
	}
	for id, t := range d.Targets {
		if t.Window != nil {
			w := *t.Window
			t.Window = &w
		}
		cp.Targets[id] = t
	}
	return cp
}
