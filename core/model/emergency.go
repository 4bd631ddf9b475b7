package model

// EmergencyMode enumerates the states of the emergency controller.
type EmergencyMode int

const (
	EmergencyNormal EmergencyMode = iota
	EmergencyBatteryCritical
	EmergencyZoneFailure
	EmergencyCommFailure
	EmergencyEscalated
)

// String returns a human-readable representation of the mode.
func (m EmergencyMode) String() string {
	switch m {
	case EmergencyNormal:
		return "normal"
	case EmergencyBatteryCritical:
		return "battery-critical"
	case EmergencyZoneFailure:
		return "zone-failure"
	case EmergencyCommFailure:
		return "comm-failure"
	case EmergencyEscalated:
		return "escalated"
	default:
		return "unknown"
	}
}

// EmergencyState is the process-wide emergency value. Readers take a copy
// per cycle; only the emergency controller transitions it.
type EmergencyState struct {
	Mode   EmergencyMode
	ZoneID string // affected zone for ZoneFailure and Escalated
}

// Overriding reports whether the state forces all non-Critical zones off,
// preempting the normal decision output.
func (s EmergencyState) Overriding() bool {
	return s.Mode == EmergencyBatteryCritical || s.Mode == EmergencyEscalated
}

// AllowsCriticalShed reports whether the load balancer may shed Critical
// zones in this state.
func (s EmergencyState) AllowsCriticalShed() bool {
	return s.Mode == EmergencyBatteryCritical || s.Mode == EmergencyEscalated
}
