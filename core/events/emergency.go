package events

import (
	"time"

	"github.com/okellodev/microgrid/core/model"
)

// TransitionEvent is published on every emergency state machine transition.
type TransitionEvent struct {
	From   model.EmergencyState
	To     model.EmergencyState
	Reason string
	Time   time.Time
}

// Severity grades a notification request.
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityHigh
	SeverityEmergency
)

func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "HIGH"
	case SeverityEmergency:
		return "EMERGENCY"
	default:
		return "NORMAL"
	}
}

// NotificationRequest asks the messaging collaborator to alert operators or
// authorities. Delivery is fire-and-forget from the engine's perspective.
type NotificationRequest struct {
	Kind     string // EMERGENCY_SHUTDOWN, CRITICAL_ZONE_FAILURE, BATTERY_EMERGENCY, LOW_BATTERY, CONNECTION_FAILURE, NOTIFY_AUTHORITIES
	Severity Severity
	ZoneID   string
	Message  string
	Time     time.Time
}
