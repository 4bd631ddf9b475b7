package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/okellodev/microgrid/core/model"
)

const sampleYAML = `
mqtt:
  broker: tcp://localhost:1883
  client_id: microgrid-test
engine:
  slot_minutes: 15
scheduler:
  cycle_minutes: 10
metrics:
  prometheus_enabled: true
zones:
  - id: ZoneA
    name: Clinic
    tier: critical
    life_safety: true
  - id: ZoneB
    name: Pumping
    tier: deferrable
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Fatalf("broker = %q", cfg.MQTT.Broker)
	}
	if cfg.Engine.SlotMinutes != 15 {
		t.Fatalf("slot_minutes = %d", cfg.Engine.SlotMinutes)
	}
	if cfg.Engine.HorizonHours != 24 {
		t.Fatalf("horizon default not applied: %d", cfg.Engine.HorizonHours)
	}
	if cfg.Scheduler.CycleMinutes != 10 {
		t.Fatalf("cycle_minutes = %d", cfg.Scheduler.CycleMinutes)
	}
	if cfg.Command.MaxAttempts != 3 {
		t.Fatalf("command defaults not applied: %+v", cfg.Command)
	}
	if len(cfg.Zones) != 2 {
		t.Fatalf("zones = %d", len(cfg.Zones))
	}
	zones := cfg.ModelZones()
	if zones[0].Tier != model.TierCritical || !zones[0].LifeSafety {
		t.Fatalf("zone conversion wrong: %+v", zones[0])
	}
}

func TestLoad_DefaultZones(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", "mqtt:\n  broker: tcp://localhost:1883\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Zones) != 4 {
		t.Fatalf("default zones = %d, want 4", len(cfg.Zones))
	}
	if cfg.Zones[0].ID != "Zone1" || cfg.Zones[0].Tier != "critical" {
		t.Fatalf("default zone layout: %+v", cfg.Zones[0])
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MG_SCHEDULER__CYCLE_MINUTES", "2")
	cfg, err := Load(writeConfig(t, "config.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.CycleMinutes != 2 {
		t.Fatalf("env override ignored: %d", cfg.Scheduler.CycleMinutes)
	}
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	if _, err := Load(writeConfig(t, "config.toml", "x = 1")); err == nil {
		t.Fatal("unsupported extension accepted")
	}
}

func TestLoad_InvalidZone(t *testing.T) {
	bad := "zones:\n  - id: ZoneX\n    tier: mystery\n"
	if _, err := Load(writeConfig(t, "config.yaml", bad)); err == nil {
		t.Fatal("unknown tier accepted")
	}
}

func TestParseTier(t *testing.T) {
	for name, want := range map[string]model.Tier{
		"critical":      model.TierCritical,
		"semi-critical": model.TierSemiCritical,
		"non-critical":  model.TierNonCritical,
		"deferrable":    model.TierDeferrable,
	} {
		got, err := ParseTier(name)
		if err != nil || got != want {
			t.Fatalf("ParseTier(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseTier("nope"); err == nil {
		t.Fatal("unknown tier parsed")
	}
}
