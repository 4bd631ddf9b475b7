package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okellodev/microgrid/core/logger"
	"github.com/okellodev/microgrid/core/model"
)

// ErrUnknownZone is returned when a zone id is not registered.
var ErrUnknownZone = errors.New("unknown zone")

// ErrInvariantViolation is returned when a manual override would violate a
// tier floor invariant. The reason is wrapped around this sentinel.
var ErrInvariantViolation = errors.New("invariant violation")

// zoneSlot holds one zone behind its own lock so telemetry for different
// zones never contends.
type zoneSlot struct {
	mu   sync.Mutex
	zone model.Zone
}

// Registry is the authoritative in-memory state of every zone. Engine
// components consume immutable snapshots; mutations arrive only through
// telemetry ingestion, command acknowledgments and manual overrides.
type Registry struct {
	mu    sync.RWMutex // guards the slot map, not individual zones
	slots map[string]*zoneSlot
	log   logger.Logger

	preempt sync.Map // zone id -> struct{}, set while an emergency preemption is in flight
}

// New builds a registry from the configured zones.
func New(zones []model.Zone, log logger.Logger) (*Registry, error) {
	r := &Registry{slots: make(map[string]*zoneSlot, len(zones)), log: log}
	for _, z := range zones {
		if err := z.Validate(); err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		if _, dup := r.slots[z.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate zone id %s", z.ID)
		}
		r.slots[z.ID] = &zoneSlot{zone: z}
	}
	return r, nil
}

func (r *Registry) slot(id string) (*zoneSlot, error) {
	r.mu.RLock()
	s, ok := r.slots[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownZone, id)
	}
	return s, nil
}

// Snapshot returns an immutable copy of the current grid state. Capacity is
// the summed input power across zones; overall battery is the mean of zone
// percentages.
func (r *Registry) Snapshot() model.GridState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gs := model.GridState{TakenAt: time.Now()}
	var batterySum float64
	for _, s := range r.slots {
		s.mu.Lock()
		z := s.zone
		if z.Pending != nil {
			p := *z.Pending
			z.Pending = &p
		}
		if z.Override != nil {
			o := *z.Override
			z.Override = &o
		}
		s.mu.Unlock()
		gs.Zones = append(gs.Zones, z)
		gs.Capacity += z.Reading.InputPower
		batterySum += z.Reading.BatteryPercentage
	}
	if n := len(gs.Zones); n > 0 {
		gs.Battery = batterySum / float64(n)
	}
	return gs
}

// ApplyTelemetry updates the measured fields of a zone. Readings whose
// timestamp is not newer than the last applied one are discarded silently
// apart from a log line.
func (r *Registry) ApplyTelemetry(id string, reading model.Reading) error {
	s, err := r.slot(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !reading.Timestamp.After(s.zone.Reading.Timestamp) {
		r.log.Debugw("stale reading discarded", map[string]any{
			"zone": id,
			"ts":   reading.Timestamp,
			"last": s.zone.Reading.Timestamp,
		})
		return nil
	}
	s.zone.Reading = reading
	s.zone.Relay = reading.RelayState
	return nil
}

// ApplyAck records a command acknowledgment: the pending command is cleared
// and the relay state updated.
func (r *Registry) ApplyAck(id string, state model.RelayState, ts time.Time) error {
	s, err := r.slot(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.zone.Pending = nil
	s.zone.Relay = state
	s.zone.LastAck = ts
	s.mu.Unlock()
	return nil
}

// SetPending marks a command in flight for the zone.
func (r *Registry) SetPending(id string, cmd model.PendingCommand) error {
	s, err := r.slot(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.zone.Pending = &cmd
	s.mu.Unlock()
	return nil
}

// ClearPending removes the pending command if it matches cmdID. A newer
// command for the same zone is left untouched.
func (r *Registry) ClearPending(id, cmdID string) error {
	s, err := r.slot(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.zone.Pending != nil && s.zone.Pending.ID == cmdID {
		s.zone.Pending = nil
	}
	s.mu.Unlock()
	return nil
}

// ApplyOverride validates and stores a manual override. No override may set
// a Critical zone off while overall battery is at or above the critical
// threshold. Household overrides never touch Critical zones, and for
// SemiCritical and NonCritical tiers they require battery above the low
// threshold. Rejections wrap ErrInvariantViolation with an explicit reason.
func (r *Registry) ApplyOverride(id string, ov model.Override, battery float64) error {
	s, err := r.slot(id)
	if err != nil {
		return err
	}
	if _, busy := r.preempt.Load(id); busy {
		return fmt.Errorf("%w: emergency preemption in flight for zone %s", ErrInvariantViolation, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tier := s.zone.Tier
	switch {
	case tier == model.TierCritical && ov.Requested == model.RelayOff && battery >= model.BatteryCriticalThreshold:
		return fmt.Errorf("%w: critical zone %s may not be switched off at %.1f%% battery", ErrInvariantViolation, id, battery)
	case tier == model.TierCritical && ov.Issuer == model.RoleHousehold:
		return fmt.Errorf("%w: household overrides are not permitted on critical zones", ErrInvariantViolation)
	case tier == model.TierSemiCritical && ov.Issuer == model.RoleHousehold && battery <= model.BatteryLowThreshold:
		return fmt.Errorf("%w: household override on semi-critical zone %s rejected below %.0f%% battery", ErrInvariantViolation, id, model.BatteryLowThreshold)
	case tier == model.TierNonCritical && ov.Issuer == model.RoleHousehold && ov.Requested == model.RelayOn && battery < model.BatteryLowThreshold:
		return fmt.Errorf("%w: household override on non-critical zone %s rejected at %.1f%% battery", ErrInvariantViolation, id, battery)
	}
	s.zone.Override = &ov
	return nil
}

// ClearOverride drops any override on the zone.
func (r *Registry) ClearOverride(id string) error {
	s, err := r.slot(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.zone.Override = nil
	s.mu.Unlock()
	return nil
}

// BeginPreemption marks the zone as owned by an emergency preemption,
// cancelling any stored override. Overrides arriving while the mark is held
// are rejected.
func (r *Registry) BeginPreemption(id string) {
	r.preempt.Store(id, struct{}{})
	if s, err := r.slot(id); err == nil {
		s.mu.Lock()
		s.zone.Override = nil
		s.mu.Unlock()
	}
}

// EndPreemption releases the emergency mark for the zone.
func (r *Registry) EndPreemption(id string) {
	r.preempt.Delete(id)
}
