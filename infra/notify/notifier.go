// Package notify delivers engine notification requests to operators over
// MQTT. Delivery failures are logged and dropped so they never disturb the
// control loop.
package notify

import (
	"encoding/json"
	"time"

	"github.com/okellodev/microgrid/core/events"
	"github.com/okellodev/microgrid/infra/logger"
	"github.com/okellodev/microgrid/infra/mqtt"
)

// Publisher abstracts the raw message transport.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// MQTTNotifier publishes notification requests on a broadcast topic.
type MQTTNotifier struct {
	pub   Publisher
	topic string
	qos   byte
	log   logger.Logger
}

// NewMQTTNotifier creates a notifier on the given topic.
func NewMQTTNotifier(pub Publisher, topic string, qos byte) *MQTTNotifier {
	return &MQTTNotifier{
		pub:   pub,
		topic: topic,
		qos:   qos,
		log:   logger.New("notifier"),
	}
}

type notifyPayload struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	ZoneID   string `json:"zone_id,omitempty"`
	Message  string `json:"message"`
	Time     int64  `json:"timestamp"`
}

// Notify publishes a single request. Emergency-severity requests are logged
// at error level regardless of delivery outcome so they reach the operator
// log even with the broker down.
func (n *MQTTNotifier) Notify(req events.NotificationRequest) {
	if req.Severity == events.SeverityEmergency {
		n.log.Errorf("%s: %s", req.Kind, req.Message)
	} else {
		n.log.Warnf("%s: %s", req.Kind, req.Message)
	}
	ts := req.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	payload, err := json.Marshal(notifyPayload{
		Kind:     req.Kind,
		Severity: req.Severity.String(),
		ZoneID:   req.ZoneID,
		Message:  req.Message,
		Time:     ts.UnixMilli(),
	})
	if err != nil {
		n.log.Errorf("failed to encode notification: %v", err)
		return
	}
	if err := n.pub.Publish(n.topic, n.qos, payload); err != nil {
		n.log.Errorf("failed to publish notification: %v", err)
	}
}

// LogNotifier writes notifications to the structured log only. Used when no
// broker is configured.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.New("notifier")}
}

func (n *LogNotifier) Notify(req events.NotificationRequest) {
	if req.Severity == events.SeverityEmergency {
		n.log.Errorf("%s: %s", req.Kind, req.Message)
		return
	}
	n.log.Warnf("%s: %s", req.Kind, req.Message)
}

var _ Publisher = (*clientPublisher)(nil)

type clientPublisher struct {
	cli *mqtt.PahoClient
}

// NewClientPublisher adapts a PahoClient into a Publisher.
func NewClientPublisher(cli *mqtt.PahoClient) Publisher {
	return &clientPublisher{cli: cli}
}

func (p *clientPublisher) Publish(topic string, qos byte, payload []byte) error {
	return p.cli.PublishRaw(topic, qos, payload)
}
