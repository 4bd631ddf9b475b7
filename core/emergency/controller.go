package emergency

import (
	"fmt"
	"sync"
	"time"

	"github.com/okellodev/microgrid/core/events"
	"github.com/okellodev/microgrid/core/logger"
	"github.com/okellodev/microgrid/core/model"
	"github.com/okellodev/microgrid/internal/eventbus"
)

// Notifier delivers notification requests to the messaging collaborator.
// Delivery failures never affect engine correctness.
type Notifier interface {
	Notify(req events.NotificationRequest)
}

// NopNotifier discards all requests.
type NopNotifier struct{}

func (NopNotifier) Notify(events.NotificationRequest) {}

// Record keeps one emergency occurrence for operator queries.
type Record struct {
	ID       string
	Mode     model.EmergencyMode
	ZoneID   string
	Reason   string
	Start    time.Time
	Resolved bool
	End      time.Time
}

// Controller is the emergency state machine. It owns the single
// process-wide EmergencyState; every transition goes through one guarded
// function and is observable on the event bus.
type Controller struct {
	mu      sync.Mutex
	state   model.EmergencyState
	records []Record

	// zones that already consumed their automatic restart attempt; a second
	// failure escalates.
	restartTried   map[string]bool
	lastLowAlert   time.Time
	lastStaleAlert map[string]time.Time

	notifier Notifier
	bus      eventbus.EventBus
	triggers *eventbus.TypedBus[model.EmergencyState]
	log      logger.Logger
	now      func() time.Time

	lifeSafety map[string]bool // critical zones flagged life-safety
}

// New creates a Controller in the Normal state.
func New(zones []model.Zone, notifier Notifier, bus eventbus.EventBus, log logger.Logger) *Controller {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	ls := make(map[string]bool)
	for _, z := range zones {
		if z.Tier == model.TierCritical && z.LifeSafety {
			ls[z.ID] = true
		}
	}
	return &Controller{
		notifier:       notifier,
		bus:            bus,
		triggers:       eventbus.NewTyped[model.EmergencyState](),
		log:            log,
		now:            time.Now,
		restartTried:   make(map[string]bool),
		lastStaleAlert: make(map[string]time.Time),
		lifeSafety:     ls,
	}
}

// State returns a copy of the current emergency state.
func (c *Controller) State() model.EmergencyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Triggers returns a channel carrying states entered outside the normal
// cycle. The scheduler uses it to preempt.
func (c *Controller) Triggers() <-chan model.EmergencyState {
	return c.triggers.Subscribe()
}

// transition is the single place the state changes.
func (c *Controller) transition(to model.EmergencyState, reason string) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.log.Warnf("emergency transition %s -> %s: %s", from.Mode, to.Mode, reason)
	if c.bus != nil {
		c.bus.Publish(events.TransitionEvent{From: from, To: to, Reason: reason, Time: c.now()})
	}
	if to.Mode != model.EmergencyNormal {
		c.records = append(c.records, Record{
			ID:     fmt.Sprintf("emergency_%d", c.now().UnixNano()),
			Mode:   to.Mode,
			ZoneID: to.ZoneID,
			Reason: reason,
			Start:  c.now(),
		})
		// CommFailure is recorded and alerted but never preempts the cycle.
		if to.Mode != model.EmergencyCommFailure {
			c.triggers.Publish(to)
		}
	}
}

// ObserveBattery evaluates the battery trigger with its hysteresis band:
// below 10% enters BatteryCritical, and only above 15% does it clear.
// Readings fluctuating strictly between the two never flap the state.
func (c *Controller) ObserveBattery(percentage float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state.Mode == model.EmergencyNormal && percentage < model.BatteryCriticalThreshold:
		c.transition(model.EmergencyState{Mode: model.EmergencyBatteryCritical},
			fmt.Sprintf("battery at %.1f%%", percentage))
		c.notifier.Notify(events.NotificationRequest{
			Kind:     "BATTERY_EMERGENCY",
			Severity: events.SeverityEmergency,
			Message:  fmt.Sprintf("Battery critical: %.1f%%", percentage),
			Time:     c.now(),
		})
	case c.state.Mode == model.EmergencyBatteryCritical && percentage > model.BatteryRecoverThreshold:
		c.transition(model.EmergencyState{Mode: model.EmergencyNormal},
			fmt.Sprintf("battery recovered to %.1f%%", percentage))
		c.resolveOpen()
	case c.state.Mode == model.EmergencyNormal && percentage < model.BatteryLowThreshold:
		// Rate-limited advisory, not a state transition.
		if c.now().Sub(c.lastLowAlert) >= time.Hour {
			c.lastLowAlert = c.now()
			c.notifier.Notify(events.NotificationRequest{
				Kind:     "LOW_BATTERY",
				Severity: events.SeverityHigh,
				Message:  fmt.Sprintf("Battery low: %.1f%%", percentage),
				Time:     c.now(),
			})
		}
	}
}

// ObserveCommandFailure handles a command whose retry budget was exhausted.
// A failed Critical zone enters ZoneFailure; a second failure after the
// automatic restart attempt escalates.
func (c *Controller) ObserveCommandFailure(ev events.CommandFailedEvent) {
	if ev.Tier != model.TierCritical {
		c.log.Warnf("command failed for %s zone %s", ev.Tier, ev.ZoneID)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restartTried[ev.ZoneID] {
		c.transition(model.EmergencyState{Mode: model.EmergencyEscalated, ZoneID: ev.ZoneID},
			"restart attempt failed")
		c.notifier.Notify(events.NotificationRequest{
			Kind:     "CRITICAL_ZONE_FAILURE",
			Severity: events.SeverityEmergency,
			ZoneID:   ev.ZoneID,
			Message:  fmt.Sprintf("ESCALATION: critical zone %s restart failed, manual intervention required", ev.ZoneID),
			Time:     c.now(),
		})
		if c.lifeSafety[ev.ZoneID] {
			c.notifier.Notify(events.NotificationRequest{
				Kind:     "NOTIFY_AUTHORITIES",
				Severity: events.SeverityEmergency,
				ZoneID:   ev.ZoneID,
				Message:  fmt.Sprintf("Life-safety zone %s unrecoverable, notify authorities", ev.ZoneID),
				Time:     c.now(),
			})
		}
		return
	}
	if c.state.Mode == model.EmergencyNormal || c.state.Mode == model.EmergencyBatteryCritical {
		c.restartTried[ev.ZoneID] = true
		c.transition(model.EmergencyState{Mode: model.EmergencyZoneFailure, ZoneID: ev.ZoneID},
			"critical zone failed acknowledgment")
		c.notifier.Notify(events.NotificationRequest{
			Kind:     "CRITICAL_ZONE_FAILURE",
			Severity: events.SeverityEmergency,
			ZoneID:   ev.ZoneID,
			Message:  fmt.Sprintf("Critical zone %s failed, attempting restart", ev.ZoneID),
			Time:     c.now(),
		})
	}
}

// ObserveCommLoss enters CommFailure when the dispatcher reports sustained
// communication loss across all zones.
func (c *Controller) ObserveCommLoss(since time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Mode == model.EmergencyCommFailure {
		return
	}
	c.transition(model.EmergencyState{Mode: model.EmergencyCommFailure},
		fmt.Sprintf("no acknowledgments for %s", since))
	c.notifier.Notify(events.NotificationRequest{
		Kind:     "CONNECTION_FAILURE",
		Severity: events.SeverityEmergency,
		Message:  fmt.Sprintf("Field communication lost for %s", since),
		Time:     c.now(),
	})
}

// ObserveStaleData reports telemetry older than the freshness window.
// Stale data on a Critical zone raises an operator alert, rate limited to
// one per zone per hour. Other tiers are only logged by the caller.
func (c *Controller) ObserveStaleData(zone model.Zone, age time.Duration) {
	if zone.Tier != model.TierCritical {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Sub(c.lastStaleAlert[zone.ID]) < time.Hour {
		return
	}
	c.lastStaleAlert[zone.ID] = c.now()
	c.notifier.Notify(events.NotificationRequest{
		Kind:     "STALE_DATA_CRITICAL",
		Severity: events.SeverityEmergency,
		ZoneID:   zone.ID,
		Message:  fmt.Sprintf("Critical zone %s data is %.1f minutes old", zone.ID, age.Minutes()),
		Time:     c.now(),
	})
}

// ObserveRecovery clears ZoneFailure, CommFailure or Escalated after an
// explicit confirmation: the zone re-acknowledged or an admin cleared the
// condition.
func (c *Controller) ObserveRecovery(zoneID, by string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state.Mode {
	case model.EmergencyZoneFailure, model.EmergencyEscalated:
		if zoneID != "" && c.state.ZoneID != zoneID {
			return
		}
	case model.EmergencyCommFailure:
	default:
		return
	}
	delete(c.restartTried, c.state.ZoneID)
	c.transition(model.EmergencyState{Mode: model.EmergencyNormal},
		fmt.Sprintf("recovery confirmed by %s", by))
	c.resolveOpen()
}

// Apply overlays the emergency policy on the engine's decision. In
// BatteryCritical and Escalated every non-Critical zone is forced off and
// the result is marked emergency-authorized, so the dispatcher honors
// Critical sheds the balancer made under the same state. The decision is
// otherwise passed through untouched.
func (c *Controller) Apply(d model.Decision, grid model.GridState) model.Decision {
	state := c.State()
	if !state.Overriding() {
		return d
	}
	out := d.Clone()
	out.Emergency = true
	for _, z := range grid.Zones {
		if z.Tier == model.TierCritical {
			continue
		}
		t := out.Targets[z.ID]
		if t.State == model.RelayOn {
			out.Shed = append(out.Shed, model.Shed{ZoneID: z.ID, Tier: z.Tier, Reason: model.ShedEmergency})
		}
		t.State = model.RelayOff
		t.Window = nil
		t.Override = false
		out.Targets[z.ID] = t
	}
	return out
}

// EmergencyDecision builds the decision used when preempting outside the
// normal cycle: Critical zones on, everything else off.
func (c *Controller) EmergencyDecision(grid model.GridState) model.Decision {
	d := model.NewDecision(c.now())
	d.Emergency = true
	for _, z := range grid.Zones {
		if z.Tier == model.TierCritical {
			d.Targets[z.ID] = model.Target{State: model.RelayOn}
		} else {
			d.Targets[z.ID] = model.Target{State: model.RelayOff}
		}
	}
	return d
}

// Active returns the unresolved emergency records.
func (c *Controller) Active() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Record
	for _, r := range c.records {
		if !r.Resolved {
			out = append(out, r)
		}
	}
	return out
}

// History returns records started within the given window.
func (c *Controller) History(window time.Duration) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-window)
	var out []Record
	for _, r := range c.records {
		if r.Start.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// resolveOpen marks all open records resolved. Called with c.mu held.
func (c *Controller) resolveOpen() {
	for i := range c.records {
		if !c.records[i].Resolved {
			c.records[i].Resolved = true
			c.records[i].End = c.now()
		}
	}
}

// Close releases the trigger bus.
func (c *Controller) Close() {
	c.triggers.Close()
}
