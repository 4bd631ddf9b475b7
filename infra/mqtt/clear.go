package mqtt

import (
	"encoding/json"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/okellodev/microgrid/infra/logger"
)

// clearMessage is the payload on the emergency clear topic.
type clearMessage struct {
	ZoneID string `json:"zone_id"`
	By     string `json:"by"`
}

// RecoveryObserver accepts confirmed recoveries. The emergency controller
// implements it.
type RecoveryObserver interface {
	ObserveRecovery(zoneID, by string)
}

// ClearSubscriber forwards operator clear requests to the emergency
// controller, resolving ZoneFailure, CommFailure or Escalated states that
// no field acknowledgment will clear on its own.
type ClearSubscriber struct {
	rec    RecoveryObserver
	logger logger.Logger
}

// NewClearSubscriber builds a subscriber handler.
func NewClearSubscriber(rec RecoveryObserver) *ClearSubscriber {
	return &ClearSubscriber{rec: rec, logger: logger.New("clear")}
}

// Subscribe attaches the handler to the clear topic on the client.
func (c *ClearSubscriber) Subscribe(p *PahoClient, topic string) error {
	token := p.cli.Subscribe(topic, p.qosFor("clear"), c.Handle)
	token.Wait()
	return token.Error()
}

// Handle decodes a clear request and reports it as a recovery. An empty
// zone id clears regardless of which zone is affected.
func (c *ClearSubscriber) Handle(_ paho.Client, msg paho.Message) {
	var m clearMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		c.logger.Errorf("failed to decode clear request: %v", err)
		return
	}
	if m.By == "" {
		m.By = "admin"
	}
	c.logger.Infof("emergency clear requested by %s (zone %q)", m.By, m.ZoneID)
	c.rec.ObserveRecovery(m.ZoneID, m.By)
}
