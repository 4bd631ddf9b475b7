package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/okellodev/microgrid/core/events"
	"github.com/okellodev/microgrid/core/model"
	"github.com/okellodev/microgrid/core/registry"
	"github.com/okellodev/microgrid/infra/logger"
	"github.com/okellodev/microgrid/internal/eventbus"
)

// fakeMessage implements paho.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestZoneFromTopic(t *testing.T) {
	if got := zoneFromTopic("microgrid/telemetry/Zone1"); got != "Zone1" {
		t.Fatalf("got %q", got)
	}
	if got := zoneFromTopic("microgrid/telemetry/"); got != "" {
		t.Fatalf("trailing slash produced %q", got)
	}
}

func TestZoneFromOverrideTopic(t *testing.T) {
	if got := zoneFromOverrideTopic("microgrid/zone/Zone2/override"); got != "Zone2" {
		t.Fatalf("got %q", got)
	}
	for _, topic := range []string{
		"microgrid/zone/Zone2/command",
		"other/zone/Zone2/override",
		"microgrid/zone/override",
	} {
		if got := zoneFromOverrideTopic(topic); got != "" {
			t.Fatalf("topic %q produced zone %q", topic, got)
		}
	}
}

func TestOverrideMessage_ToOverride(t *testing.T) {
	m := overrideMessage{RequestedState: "ON", IssuerRole: "household", ExpirySeconds: 60}
	ov, err := m.toOverride()
	if err != nil {
		t.Fatalf("toOverride: %v", err)
	}
	if ov.Requested != model.RelayOn || ov.Issuer != model.RoleHousehold {
		t.Fatalf("override = %+v", ov)
	}
	if !ov.Expiry.After(time.Now()) {
		t.Fatal("expiry not in the future")
	}

	bad := []overrideMessage{
		{RequestedState: "MAYBE", IssuerRole: "admin", ExpirySeconds: 60},
		{RequestedState: "ON", IssuerRole: "robot", ExpirySeconds: 60},
		{RequestedState: "ON", IssuerRole: "admin", ExpirySeconds: 0},
	}
	for _, m := range bad {
		if _, err := m.toOverride(); err == nil {
			t.Fatalf("invalid message accepted: %+v", m)
		}
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	id, err := m.SendCommand("z1", model.RelayOn)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	ok, err := m.WaitForAck(id, time.Second)
	if err != nil || !ok {
		t.Fatalf("ack = %v, %v", ok, err)
	}
	if m.Commands["z1"] != model.RelayOn {
		t.Fatalf("command not recorded: %v", m.Commands)
	}

	m.FailIDs["z2"] = true
	if _, err := m.SendCommand("z2", model.RelayOff); err == nil {
		t.Fatal("configured failure did not error")
	}
	if _, err := m.WaitForAck("unknown", time.Second); err == nil {
		t.Fatal("unknown command acknowledged")
	}
}

func TestTelemetryPayloadDecodes(t *testing.T) {
	payload := []byte(`{
		"battery_voltage": 12.4,
		"input_power": 150,
		"output_power": 90,
		"solar_generation": 60,
		"battery_percentage": 75,
		"relay_state": 1,
		"timestamp": "2026-08-28T10:00:00Z"
	}`)
	var r model.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.BatteryVoltage != 12.4 || r.RelayState != model.RelayOn {
		t.Fatalf("reading = %+v", r)
	}
}

type recoveryRecorder struct {
	zones []string
	by    []string
}

func (r *recoveryRecorder) ObserveRecovery(zoneID, by string) {
	r.zones = append(r.zones, zoneID)
	r.by = append(r.by, by)
}

func TestClearSubscriber_ReportsRecovery(t *testing.T) {
	rec := &recoveryRecorder{}
	sub := NewClearSubscriber(rec)

	sub.Handle(nil, fakeMessage{
		topic:   "microgrid/emergency/clear",
		payload: []byte(`{"zone_id":"Zone1"}`),
	})
	if len(rec.zones) != 1 || rec.zones[0] != "Zone1" {
		t.Fatalf("recoveries = %v, want [Zone1]", rec.zones)
	}
	if rec.by[0] != "admin" {
		t.Fatalf("by = %q, want default admin", rec.by[0])
	}

	sub.Handle(nil, fakeMessage{
		topic:   "microgrid/emergency/clear",
		payload: []byte(`{"zone_id":"","by":"operator"}`),
	})
	if len(rec.zones) != 2 || rec.by[1] != "operator" {
		t.Fatalf("second clear = zones %v by %v", rec.zones, rec.by)
	}

	sub.Handle(nil, fakeMessage{
		topic:   "microgrid/emergency/clear",
		payload: []byte(`not json`),
	})
	if len(rec.zones) != 2 {
		t.Fatal("malformed clear request reached the controller")
	}
}

func TestConfig_ClearTopicDefault(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	if cfg.ClearTopic != "microgrid/emergency/clear" {
		t.Fatalf("clear topic default = %q", cfg.ClearTopic)
	}
}

func newOverrideRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	zones := []model.Zone{
		{ID: "Zone1", Tier: model.TierCritical},
		{ID: "Zone3", Tier: model.TierNonCritical},
	}
	r, err := registry.New(zones, logger.NopLogger{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func TestOverrideSubscriber_AppliesAndPublishesVerdict(t *testing.T) {
	reg := newOverrideRegistry(t)
	bus := eventbus.New()
	sub := NewOverrideSubscriber(reg, bus)
	verdicts := bus.Subscribe()

	sub.Handle(nil, fakeMessage{
		topic:   "microgrid/zone/Zone3/override",
		payload: []byte(`{"requested_state":"ON","issuer_role":"admin","expiry_seconds":600}`),
	})

	z, _ := reg.Snapshot().Zone("Zone3")
	if z.Override == nil || z.Override.Requested != model.RelayOn {
		t.Fatalf("override not applied: %+v", z.Override)
	}
	select {
	case ev := <-verdicts:
		verdict, ok := ev.(events.OverrideEvent)
		if !ok || !verdict.Accepted || verdict.ZoneID != "Zone3" {
			t.Fatalf("unexpected verdict %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no verdict published")
	}
}

func TestOverrideSubscriber_RejectionPublished(t *testing.T) {
	reg := newOverrideRegistry(t)
	bus := eventbus.New()
	sub := NewOverrideSubscriber(reg, bus)
	verdicts := bus.Subscribe()

	// Household overrides never touch critical zones.
	sub.Handle(nil, fakeMessage{
		topic:   "microgrid/zone/Zone1/override",
		payload: []byte(`{"requested_state":"ON","issuer_role":"household","expiry_seconds":600}`),
	})

	z, _ := reg.Snapshot().Zone("Zone1")
	if z.Override != nil {
		t.Fatal("rejected override was stored")
	}
	select {
	case ev := <-verdicts:
		verdict, ok := ev.(events.OverrideEvent)
		if !ok || verdict.Accepted || verdict.Reason == "" {
			t.Fatalf("unexpected verdict %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no rejection verdict published")
	}
}
