package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/okellodev/microgrid/core/events"
	"github.com/okellodev/microgrid/core/model"
	"github.com/okellodev/microgrid/core/registry"
	"github.com/okellodev/microgrid/infra/logger"
	"github.com/okellodev/microgrid/internal/eventbus"
)

// overrideMessage is the payload on the override topic
// (microgrid/zone/<zone>/override).
type overrideMessage struct {
	RequestedState string `json:"requested_state"`
	IssuerRole     string `json:"issuer_role"`
	ExpirySeconds  int    `json:"expiry_seconds"`
}

// OverrideSubscriber applies manual override requests to the registry and
// publishes the verdict on the event bus.
type OverrideSubscriber struct {
	reg    *registry.Registry
	bus    eventbus.EventBus
	logger logger.Logger
}

// NewOverrideSubscriber builds a subscriber handler.
func NewOverrideSubscriber(reg *registry.Registry, bus eventbus.EventBus) *OverrideSubscriber {
	return &OverrideSubscriber{
		reg:    reg,
		bus:    bus,
		logger: logger.New("override"),
	}
}

// Subscribe attaches the handler to the override topic on the client.
func (o *OverrideSubscriber) Subscribe(p *PahoClient, topic string) error {
	token := p.cli.Subscribe(topic, p.qosFor("override"), o.Handle)
	token.Wait()
	return token.Error()
}

// Handle decodes an override request and applies it. The verdict, accepted
// or rejected with a reason, goes on the event bus either way.
func (o *OverrideSubscriber) Handle(_ paho.Client, msg paho.Message) {
	zoneID := zoneFromOverrideTopic(msg.Topic())
	if zoneID == "" {
		o.logger.Warnf("override on unexpected topic %s", msg.Topic())
		return
	}
	var m overrideMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		o.logger.Errorf("failed to decode override for %s: %v", zoneID, err)
		return
	}
	ov, err := m.toOverride()
	if err != nil {
		o.logger.Warnf("invalid override for %s: %v", zoneID, err)
		return
	}

	battery := o.reg.Snapshot().Battery
	applyErr := o.reg.ApplyOverride(zoneID, ov, battery)
	ev := events.OverrideEvent{
		ZoneID:   zoneID,
		Issuer:   ov.Issuer,
		Target:   ov.Requested,
		Accepted: applyErr == nil,
		Time:     time.Now(),
	}
	if applyErr != nil {
		ev.Reason = applyErr.Error()
		o.logger.Warnf("override rejected for %s: %v", zoneID, applyErr)
	} else {
		o.logger.Infof("override accepted for %s: %s by %s", zoneID, ov.Requested, ov.Issuer)
	}
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}

func (m overrideMessage) toOverride() (model.Override, error) {
	var ov model.Override
	switch m.RequestedState {
	case "ON":
		ov.Requested = model.RelayOn
	case "OFF":
		ov.Requested = model.RelayOff
	default:
		return ov, fmt.Errorf("unknown requested_state %q", m.RequestedState)
	}
	switch m.IssuerRole {
	case "admin":
		ov.Issuer = model.RoleAdmin
	case "household":
		ov.Issuer = model.RoleHousehold
	default:
		return ov, fmt.Errorf("unknown issuer_role %q", m.IssuerRole)
	}
	if m.ExpirySeconds <= 0 {
		return ov, fmt.Errorf("expiry_seconds must be positive")
	}
	ov.Expiry = time.Now().Add(time.Duration(m.ExpirySeconds) * time.Second)
	return ov, nil
}

// zoneFromOverrideTopic extracts the zone id from
// microgrid/zone/<zone>/override.
func zoneFromOverrideTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "microgrid" || parts[1] != "zone" || parts[3] != "override" {
		return ""
	}
	return parts[2]
}
