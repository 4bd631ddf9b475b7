package events

import (
	"time"

	"github.com/okellodev/microgrid/core/model"
)

// DecisionEvent is published after every committed decision cycle.
type DecisionEvent struct {
	Decision model.Decision
	Battery  float64
	Load     float64
	Capacity float64
}

// ShedEvent is published for each zone turned off to satisfy capacity or
// safety invariants.
type ShedEvent struct {
	ZoneID string
	Tier   model.Tier
	Reason model.ShedReason
	Time   time.Time
}

// OverrideEvent records acceptance or rejection of a manual override.
type OverrideEvent struct {
	ZoneID   string
	Issuer   model.Role
	Target   model.RelayState
	Accepted bool
	Reason   string
	Time     time.Time
}
