package emergency

import (
	"sync"
	"testing"
	"time"

	"github.com/okellodev/microgrid/core/events"
	"github.com/okellodev/microgrid/core/model"
	"github.com/okellodev/microgrid/infra/logger"
)

type recordingNotifier struct {
	mu   sync.Mutex
	reqs []events.NotificationRequest
}

func (n *recordingNotifier) Notify(req events.NotificationRequest) {
	n.mu.Lock()
	n.reqs = append(n.reqs, req)
	n.mu.Unlock()
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.reqs))
	for i, r := range n.reqs {
		out[i] = r.Kind
	}
	return out
}

func testZones() []model.Zone {
	return []model.Zone{
		{ID: "z1", Tier: model.TierCritical, LifeSafety: true},
		{ID: "z2", Tier: model.TierSemiCritical},
		{ID: "z3", Tier: model.TierNonCritical},
	}
}

func newTestController(notifier Notifier) *Controller {
	return New(testZones(), notifier, nil, logger.NopLogger{})
}

func TestObserveBattery_Hysteresis(t *testing.T) {
	c := newTestController(nil)

	c.ObserveBattery(9)
	if c.State().Mode != model.EmergencyBatteryCritical {
		t.Fatal("battery below 10% did not enter BatteryCritical")
	}
	// Inside the hysteresis band: no flapping either way.
	c.ObserveBattery(12)
	if c.State().Mode != model.EmergencyBatteryCritical {
		t.Fatal("12% cleared BatteryCritical inside the band")
	}
	c.ObserveBattery(14)
	if c.State().Mode != model.EmergencyBatteryCritical {
		t.Fatal("14% cleared BatteryCritical inside the band")
	}
	c.ObserveBattery(16)
	if c.State().Mode != model.EmergencyNormal {
		t.Fatal("16% did not clear BatteryCritical")
	}
	// Back inside the band from above: no re-entry.
	c.ObserveBattery(12)
	if c.State().Mode != model.EmergencyNormal {
		t.Fatal("12% re-entered BatteryCritical from Normal")
	}
}

func TestObserveBattery_EmergencyNotification(t *testing.T) {
	n := &recordingNotifier{}
	c := newTestController(n)
	c.ObserveBattery(8)
	kinds := n.kinds()
	if len(kinds) != 1 || kinds[0] != "BATTERY_EMERGENCY" {
		t.Fatalf("notifications = %v, want BATTERY_EMERGENCY", kinds)
	}
}

func TestObserveBattery_LowAdvisoryRateLimited(t *testing.T) {
	n := &recordingNotifier{}
	c := newTestController(n)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.ObserveBattery(18)
	c.ObserveBattery(17)
	if got := len(n.kinds()); got != 1 {
		t.Fatalf("low battery advisory sent %d times within the hour", got)
	}
	if c.State().Mode != model.EmergencyNormal {
		t.Fatal("low battery advisory changed the state")
	}

	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	c.ObserveBattery(17)
	if got := len(n.kinds()); got != 2 {
		t.Fatalf("advisory not re-sent after the rate window, got %d", got)
	}
}

func TestObserveCommandFailure_EscalatesOnSecondFailure(t *testing.T) {
	n := &recordingNotifier{}
	c := newTestController(n)

	ev := events.CommandFailedEvent{ZoneID: "z1", Tier: model.TierCritical, Target: model.RelayOn, Time: time.Now()}
	c.ObserveCommandFailure(ev)
	if c.State().Mode != model.EmergencyZoneFailure || c.State().ZoneID != "z1" {
		t.Fatalf("first critical failure state = %+v", c.State())
	}

	c.ObserveCommandFailure(ev)
	if c.State().Mode != model.EmergencyEscalated {
		t.Fatalf("second critical failure state = %+v", c.State())
	}

	kinds := n.kinds()
	wantAuthorities := false
	for _, k := range kinds {
		if k == "NOTIFY_AUTHORITIES" {
			wantAuthorities = true
		}
	}
	if !wantAuthorities {
		t.Fatalf("life-safety escalation missing NOTIFY_AUTHORITIES: %v", kinds)
	}
}

func TestObserveCommandFailure_NonCriticalIgnored(t *testing.T) {
	c := newTestController(nil)
	ev := events.CommandFailedEvent{ZoneID: "z3", Tier: model.TierNonCritical, Target: model.RelayOn, Time: time.Now()}
	c.ObserveCommandFailure(ev)
	if c.State().Mode != model.EmergencyNormal {
		t.Fatalf("non-critical failure changed state to %v", c.State().Mode)
	}
}

func TestObserveCommLoss(t *testing.T) {
	n := &recordingNotifier{}
	c := newTestController(n)
	c.ObserveCommLoss(3 * time.Minute)
	if c.State().Mode != model.EmergencyCommFailure {
		t.Fatalf("state = %v, want CommFailure", c.State().Mode)
	}
	// Repeat observation must not duplicate the transition.
	c.ObserveCommLoss(4 * time.Minute)
	if got := len(c.Active()); got != 1 {
		t.Fatalf("active records = %d, want 1", got)
	}
}

func TestObserveRecovery(t *testing.T) {
	c := newTestController(nil)
	ev := events.CommandFailedEvent{ZoneID: "z1", Tier: model.TierCritical, Target: model.RelayOn, Time: time.Now()}
	c.ObserveCommandFailure(ev)

	c.ObserveRecovery("other", "admin")
	if c.State().Mode != model.EmergencyZoneFailure {
		t.Fatal("recovery for unrelated zone cleared the state")
	}

	c.ObserveRecovery("z1", "admin")
	if c.State().Mode != model.EmergencyNormal {
		t.Fatalf("state = %v after recovery, want Normal", c.State().Mode)
	}
	if got := len(c.Active()); got != 0 {
		t.Fatalf("active records after recovery = %d", got)
	}
	// The restart budget resets with the recovery.
	c.ObserveCommandFailure(ev)
	if c.State().Mode != model.EmergencyZoneFailure {
		t.Fatalf("post-recovery failure state = %v, want ZoneFailure", c.State().Mode)
	}
}

func TestApply_ForcesNonCriticalOff(t *testing.T) {
	c := newTestController(nil)
	c.ObserveBattery(8)

	grid := model.GridState{Zones: testZones(), Battery: 8}
	d := model.NewDecision(time.Now())
	for _, z := range grid.Zones {
		d.Targets[z.ID] = model.Target{State: model.RelayOn}
	}
	got := c.Apply(d, grid)

	if got.Targets["z1"].State != model.RelayOn {
		t.Fatal("critical zone turned off by emergency overlay")
	}
	for _, id := range []string{"z2", "z3"} {
		if got.Targets[id].State != model.RelayOff {
			t.Fatalf("%s left on under BatteryCritical", id)
		}
	}
	for _, s := range got.Shed {
		if s.Reason != model.ShedEmergency {
			t.Fatalf("shed reason = %v, want emergency", s.Reason)
		}
	}
	// The input decision is untouched.
	if d.Targets["z2"].State != model.RelayOn {
		t.Fatal("overlay mutated the input decision")
	}
}

func TestApply_NormalPassthrough(t *testing.T) {
	c := newTestController(nil)
	grid := model.GridState{Zones: testZones(), Battery: 80}
	d := model.NewDecision(time.Now())
	d.Targets["z3"] = model.Target{State: model.RelayOn}
	got := c.Apply(d, grid)
	if got.Targets["z3"].State != model.RelayOn {
		t.Fatal("normal state modified the decision")
	}
}

func TestEmergencyDecision(t *testing.T) {
	c := newTestController(nil)
	grid := model.GridState{Zones: testZones()}
	d := c.EmergencyDecision(grid)
	if !d.Emergency {
		t.Fatal("emergency decision not flagged")
	}
	if d.Targets["z1"].State != model.RelayOn {
		t.Fatal("critical zone off in emergency decision")
	}
	for _, id := range []string{"z2", "z3"} {
		if d.Targets[id].State != model.RelayOff {
			t.Fatalf("%s on in emergency decision", id)
		}
	}
}

func TestTriggers_PublishedOnEntry(t *testing.T) {
	c := newTestController(nil)
	sub := c.Triggers()
	c.ObserveBattery(8)
	select {
	case st := <-sub:
		if st.Mode != model.EmergencyBatteryCritical {
			t.Fatalf("trigger mode = %v", st.Mode)
		}
	case <-time.After(time.Second):
		t.Fatal("no trigger published on BatteryCritical entry")
	}
}

func TestTriggers_CommFailureDoesNotPreempt(t *testing.T) {
	c := newTestController(nil)
	sub := c.Triggers()
	c.ObserveCommLoss(3 * time.Minute)
	if c.State().Mode != model.EmergencyCommFailure {
		t.Fatalf("state = %v, want CommFailure", c.State().Mode)
	}
	select {
	case st := <-sub:
		t.Fatalf("CommFailure published a preemption trigger: %v", st.Mode)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestApply_MarksDecisionEmergency(t *testing.T) {
	c := newTestController(nil)
	ev := events.CommandFailedEvent{ZoneID: "z1", Tier: model.TierCritical, Target: model.RelayOn, Time: time.Now()}
	c.ObserveCommandFailure(ev)
	c.ObserveCommandFailure(ev)
	if c.State().Mode != model.EmergencyEscalated {
		t.Fatalf("state = %v, want Escalated", c.State().Mode)
	}

	grid := model.GridState{Zones: testZones(), Battery: 40}
	// The balancer may have shed the critical zone under Escalated; the
	// overlay must authorize that command for the dispatcher.
	d := model.NewDecision(time.Now())
	d.Targets["z1"] = model.Target{State: model.RelayOff}
	got := c.Apply(d, grid)
	if !got.Emergency {
		t.Fatal("overlay did not mark the decision emergency-authorized")
	}
	if got.Targets["z1"].State != model.RelayOff {
		t.Fatal("overlay reversed the balancer's critical shed")
	}
	if d.Emergency {
		t.Fatal("overlay mutated the input decision")
	}
}

func TestObserveStaleData_CriticalOnlyAndRateLimited(t *testing.T) {
	n := &recordingNotifier{}
	c := newTestController(n)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.ObserveStaleData(model.Zone{ID: "z3", Tier: model.TierNonCritical}, 20*time.Minute)
	if len(n.kinds()) != 0 {
		t.Fatal("non-critical stale data raised an alert")
	}

	crit := model.Zone{ID: "z1", Tier: model.TierCritical}
	c.ObserveStaleData(crit, 20*time.Minute)
	c.ObserveStaleData(crit, 25*time.Minute)
	if got := len(n.kinds()); got != 1 {
		t.Fatalf("stale alert sent %d times within the hour", got)
	}
}
