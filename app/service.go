// Package app wires the engine components into a runnable service.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/okellodev/microgrid/config"
	coreaudit "github.com/okellodev/microgrid/core/audit"
	"github.com/okellodev/microgrid/core/balance"
	"github.com/okellodev/microgrid/core/command"
	"github.com/okellodev/microgrid/core/emergency"
	"github.com/okellodev/microgrid/core/engine"
	coremetrics "github.com/okellodev/microgrid/core/metrics"
	"github.com/okellodev/microgrid/core/prediction"
	"github.com/okellodev/microgrid/core/registry"
	"github.com/okellodev/microgrid/core/scheduler"
	infraaudit "github.com/okellodev/microgrid/infra/audit"
	"github.com/okellodev/microgrid/infra/logger"
	"github.com/okellodev/microgrid/infra/metrics"
	"github.com/okellodev/microgrid/infra/mqtt"
	"github.com/okellodev/microgrid/infra/notify"
	"github.com/okellodev/microgrid/internal/eventbus"
)

// Service orchestrates the scheduler, subscribers and sinks.
type Service struct {
	Scheduler *scheduler.Scheduler
	Registry  *registry.Registry
	Emergency *emergency.Controller

	bus       eventbus.EventBus
	client    *mqtt.PahoClient
	store     coreaudit.Store
	recorder  *coreaudit.Recorder
	collector *metrics.Collector
	log       logger.Logger

	promEnabled bool
	promPort    string
}

// New creates a Service from the configuration. A nil predictor selects the
// deterministic mock, which keeps the engine on its normal path with a
// fixed sustain estimate.
func New(cfg *config.Config, pred prediction.Predictor) (*Service, error) {
	logg := logger.New("service")
	bus := eventbus.New()
	zones := cfg.ModelZones()

	reg, err := registry.New(zones, logger.New("registry"))
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	client, err := mqtt.NewPahoClient(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}

	notifier := notify.NewMQTTNotifier(notify.NewClientPublisher(client), cfg.MQTT.NotifyTopic, 1)
	em := emergency.New(zones, notifier, bus, logger.New("emergency"))

	if pred == nil {
		pred = prediction.MockPredictor{SustainHours: 6}
	}
	eng, err := engine.New(cfg.Engine, pred, bus, logger.New("engine"))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	bal := balance.New(logger.New("balance"))

	disp, err := command.New(cfg.Command, client, reg, em, bus, logger.New("command"))
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	sched, err := scheduler.New(cfg.Scheduler, reg, eng, bal, em, disp, bus, logger.New("scheduler"))
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	svc := &Service{
		Scheduler:   sched,
		Registry:    reg,
		Emergency:   em,
		bus:         bus,
		client:      client,
		log:         logg,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promPort:    cfg.Metrics.PrometheusPort,
	}

	sink, err := buildSink(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		svc.collector = metrics.NewCollector(sink, bus, logger.New("metrics"))
	}

	store, err := buildStore(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	svc.store = store
	svc.recorder, err = coreaudit.NewRecorder(store, bus, logger.New("audit"))
	if err != nil {
		return nil, fmt.Errorf("audit recorder: %w", err)
	}

	telemetry := mqtt.NewTelemetrySubscriber(reg, em.ObserveBattery)
	if err := telemetry.Subscribe(client, cfg.MQTT.TelemetryTopic); err != nil {
		return nil, fmt.Errorf("telemetry subscribe: %w", err)
	}
	overrides := mqtt.NewOverrideSubscriber(reg, bus)
	if err := overrides.Subscribe(client, cfg.MQTT.OverrideTopic); err != nil {
		return nil, fmt.Errorf("override subscribe: %w", err)
	}
	clears := mqtt.NewClearSubscriber(em)
	if err := clears.Subscribe(client, cfg.MQTT.ClearTopic); err != nil {
		return nil, fmt.Errorf("clear subscribe: %w", err)
	}

	return svc, nil
}

func buildSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	var sinks []coremetrics.MetricsSink
	if cfg.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket))
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return metrics.NewMultiSink(sinks...), nil
	}
}

func buildStore(cfg config.AuditConfig) (coreaudit.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return infraaudit.NewSQLiteStore(cfg.Path)
	default:
		return infraaudit.NewJSONLStore(cfg.Path)
	}
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	go s.recorder.Run(ctx)
	if s.collector != nil {
		go s.collector.Run(ctx)
	}
	if s.promEnabled {
		addr := s.promPort
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
		go func() {
			if err := metrics.StartPromServer(ctx, addr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	return s.Scheduler.Run(ctx)
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.Emergency.Close()
	s.client.Disconnect()
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
