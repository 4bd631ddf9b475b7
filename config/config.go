package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okellodev/microgrid/core/command"
	"github.com/okellodev/microgrid/core/engine"
	"github.com/okellodev/microgrid/core/metrics"
	"github.com/okellodev/microgrid/core/scheduler"
	"github.com/okellodev/microgrid/infra/mqtt"
)

type Config struct {
	MQTT      mqtt.Config      `json:"mqtt"`
	Engine    engine.Config    `json:"engine"`
	Command   command.Config   `json:"command"`
	Scheduler scheduler.Config `json:"scheduler"`
	Metrics   metrics.Config   `json:"metrics"`
	Audit     AuditConfig      `json:"audit"`
	Zones     []ZoneConfig     `json:"zones"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("MG_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "mg_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Engine.SetDefaults()
	cfg.Command.SetDefaults()
	cfg.Scheduler.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Audit.SetDefaults()
	cfg.MQTT.SetDefaults()
	if len(cfg.Zones) == 0 {
		cfg.Zones = DefaultZones()
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Scheduler.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Audit.Validate(); err != nil {
		return nil, err
	}
	for _, z := range cfg.Zones {
		if err := z.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
