package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okellodev/microgrid/core/balance"
	"github.com/okellodev/microgrid/core/command"
	"github.com/okellodev/microgrid/core/emergency"
	"github.com/okellodev/microgrid/core/engine"
	"github.com/okellodev/microgrid/core/model"
	"github.com/okellodev/microgrid/core/prediction"
	"github.com/okellodev/microgrid/core/registry"
	"github.com/okellodev/microgrid/infra/logger"
)

// ackAllClient acknowledges every command immediately and records targets.
type ackAllClient struct {
	mu      sync.Mutex
	targets map[string]model.RelayState
}

func newAckAllClient() *ackAllClient {
	return &ackAllClient{targets: make(map[string]model.RelayState)}
}

func (c *ackAllClient) SendCommand(zoneID string, target model.RelayState) (string, error) {
	c.mu.Lock()
	c.targets[zoneID] = target
	c.mu.Unlock()
	return fmt.Sprintf("cmd-%s", zoneID), nil
}

func (c *ackAllClient) WaitForAck(commandID string, timeout time.Duration) (bool, error) {
	return true, nil
}

func (c *ackAllClient) target(zoneID string) (model.RelayState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.targets[zoneID]
	return t, ok
}

type testRig struct {
	scheduler *Scheduler
	registry  *registry.Registry
	emergency *emergency.Controller
	client    *ackAllClient
}

func newTestRig(t *testing.T, pred prediction.Predictor) *testRig {
	t.Helper()
	zones := []model.Zone{
		{ID: "z1", Tier: model.TierCritical},
		{ID: "z2", Tier: model.TierSemiCritical},
		{ID: "z3", Tier: model.TierNonCritical},
		{ID: "z4", Tier: model.TierDeferrable},
	}
	reg, err := registry.New(zones, logger.NopLogger{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	em := emergency.New(zones, nil, nil, logger.NopLogger{})
	eng, err := engine.New(engine.Config{}, pred, nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	bal := balance.New(logger.NopLogger{})
	cli := newAckAllClient()
	disp, err := command.New(command.Config{AckTimeoutSeconds: 1, MaxAttempts: 1, BackoffBaseMS: 1, CommLossSeconds: 60}, cli, reg, em, nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	sched, err := New(Config{CycleMinutes: 5, MaxSkips: 3}, reg, eng, bal, em, disp, nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	return &testRig{scheduler: sched, registry: reg, emergency: em, client: cli}
}

func TestRunCycle_EnergizesCritical(t *testing.T) {
	rig := newTestRig(t, prediction.MockPredictor{SustainHours: 6})
	now := time.Now()
	_ = rig.registry.ApplyTelemetry("z1", model.Reading{InputPower: 200, BatteryPercentage: 80, Timestamp: now})

	rig.scheduler.RunCycle(context.Background())

	if tgt, ok := rig.client.target("z1"); !ok || tgt != model.RelayOn {
		t.Fatalf("critical zone command = %v (sent=%v)", tgt, ok)
	}
	z, _ := rig.registry.Snapshot().Zone("z1")
	if z.Relay != model.RelayOn {
		t.Fatal("ack did not land in the registry")
	}
}

func TestRunCycle_BatteryCriticalShedsNonCritical(t *testing.T) {
	rig := newTestRig(t, prediction.MockPredictor{SustainHours: 6})
	now := time.Now()
	// All zones reporting 8% battery, everything currently on.
	for _, id := range []string{"z1", "z2", "z3", "z4"} {
		_ = rig.registry.ApplyTelemetry(id, model.Reading{
			InputPower:        100,
			OutputPower:       50,
			BatteryVoltage:    12.0,
			BatteryPercentage: 8,
			RelayState:        model.RelayOn,
			Timestamp:         now,
		})
	}

	rig.scheduler.RunCycle(context.Background())

	if rig.emergency.State().Mode != model.EmergencyBatteryCritical {
		t.Fatalf("state = %v, want BatteryCritical", rig.emergency.State().Mode)
	}
	for _, id := range []string{"z2", "z3", "z4"} {
		z, _ := rig.registry.Snapshot().Zone(id)
		if z.Relay != model.RelayOff {
			t.Fatalf("%s left on under BatteryCritical", id)
		}
	}
	z, _ := rig.registry.Snapshot().Zone("z1")
	if z.Relay != model.RelayOn {
		t.Fatal("critical zone switched off")
	}
}

func TestRun_EmergencyTriggerPreempts(t *testing.T) {
	rig := newTestRig(t, prediction.MockPredictor{SustainHours: 6})
	now := time.Now()
	for _, id := range []string{"z2", "z3"} {
		_ = rig.registry.ApplyTelemetry(id, model.Reading{
			BatteryPercentage: 80, RelayState: model.RelayOn, Timestamp: now,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rig.scheduler.Run(ctx)
	}()

	// Push the battery under the critical threshold; the trigger must be
	// handled without waiting for a periodic tick.
	rig.emergency.ObserveBattery(8)

	deadline := time.After(2 * time.Second)
	for {
		if tgt, ok := rig.client.target("z2"); ok && tgt == model.RelayOff {
			break
		}
		select {
		case <-deadline:
			t.Fatal("preemption did not dispatch an emergency decision")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestDecodeConfig(t *testing.T) {
	yamlSrc := "cycle_minutes: 7\nmax_skips: 2\n"
	cfg, err := DecodeConfig(strings.NewReader(yamlSrc), "yaml")
	if err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if cfg.CycleMinutes != 7 || cfg.MaxSkips != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}

	jsonSrc := `{"cycle_minutes": 3}`
	cfg, err = DecodeConfig(strings.NewReader(jsonSrc), "json")
	if err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if cfg.CycleMinutes != 3 {
		t.Fatalf("cfg = %+v", cfg)
	}

	if _, err := DecodeConfig(strings.NewReader(""), "toml"); err == nil {
		t.Fatal("unsupported format accepted")
	}
}

func TestConfig_Validate(t *testing.T) {
	c := Config{}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if err := (Config{CycleMinutes: -1, MaxSkips: 1}).Validate(); err == nil {
		t.Fatal("negative cadence accepted")
	}
}
