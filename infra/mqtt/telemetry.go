package mqtt

import (
	"encoding/json"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/okellodev/microgrid/core/model"
	"github.com/okellodev/microgrid/core/registry"
	"github.com/okellodev/microgrid/infra/logger"
)

// TelemetrySubscriber feeds incoming zone readings into the registry.
// Zone identity is carried by the topic suffix (microgrid/telemetry/<zone>).
type TelemetrySubscriber struct {
	reg       *registry.Registry
	onBattery func(percent float64)
	logger    logger.Logger
}

// NewTelemetrySubscriber builds a subscriber handler. onBattery, if non-nil,
// is invoked with the aggregate battery level after each accepted reading.
func NewTelemetrySubscriber(reg *registry.Registry, onBattery func(float64)) *TelemetrySubscriber {
	return &TelemetrySubscriber{
		reg:       reg,
		onBattery: onBattery,
		logger:    logger.New("telemetry"),
	}
}

// Subscribe attaches the handler to the telemetry topic on the client.
func (t *TelemetrySubscriber) Subscribe(p *PahoClient, topic string) error {
	token := p.cli.Subscribe(topic, p.qosFor("telemetry"), t.Handle)
	token.Wait()
	return token.Error()
}

// Handle decodes a telemetry message and applies it to the registry.
func (t *TelemetrySubscriber) Handle(_ paho.Client, msg paho.Message) {
	zoneID := zoneFromTopic(msg.Topic())
	if zoneID == "" {
		t.logger.Warnf("telemetry on unexpected topic %s", msg.Topic())
		return
	}
	var reading model.Reading
	if err := json.Unmarshal(msg.Payload(), &reading); err != nil {
		t.logger.Errorf("failed to decode telemetry from %s: %v", zoneID, err)
		return
	}
	if err := t.reg.ApplyTelemetry(zoneID, reading); err != nil {
		t.logger.Warnf("telemetry for %s rejected: %v", zoneID, err)
		return
	}
	if t.onBattery != nil {
		snap := t.reg.Snapshot()
		t.onBattery(snap.Battery)
	}
}

func zoneFromTopic(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
