package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/okellodev/microgrid/core/command"
	"github.com/okellodev/microgrid/core/model"
	"github.com/okellodev/microgrid/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker         string          `json:"broker"`
	ClientID       string          `json:"client_id"`
	Username       string          `json:"username"`
	Password       string          `json:"password"`
	AckTopic       string          `json:"ack_topic"`
	TelemetryTopic string          `json:"telemetry_topic"`
	OverrideTopic  string          `json:"override_topic"`
	NotifyTopic    string          `json:"notify_topic"`
	ClearTopic     string          `json:"clear_topic"`
	UseTLS         bool            `json:"use_tls"`
	ClientCert     string          `json:"client_cert"`
	ClientKey      string          `json:"client_key"`
	CABundle       string          `json:"ca_bundle"`
	QoS            map[string]byte `json:"qos"`
	LWTTopic       string          `json:"lwt_topic"`
	LWTPayload     string          `json:"lwt_payload"`
	LWTQoS         byte            `json:"lwt_qos"`
	LWTRetain      bool            `json:"lwt_retain"`
	TLSConfig      *tls.Config     `json:"-"`
}

// SetDefaults applies topic defaults.
func (c *Config) SetDefaults() {
	if c.AckTopic == "" {
		c.AckTopic = "microgrid/ack"
	}
	if c.TelemetryTopic == "" {
		c.TelemetryTopic = "microgrid/telemetry/+"
	}
	if c.OverrideTopic == "" {
		c.OverrideTopic = "microgrid/zone/+/override"
	}
	if c.NotifyTopic == "" {
		c.NotifyTopic = "microgrid/notify"
	}
	if c.ClearTopic == "" {
		c.ClearTopic = "microgrid/emergency/clear"
	}
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// PahoClient implements the command.Client interface over Eclipse Paho.
type PahoClient struct {
	cli      pahoClient
	ackTopic string
	qos      map[string]byte

	mu       sync.Mutex
	ackChans map[string]chan bool
	logger   logger.Logger
}

// NewPahoClient connects to the MQTT broker and subscribes to the ack topic.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		ackTopic: cfg.AckTopic,
		ackChans: make(map[string]chan bool),
		logger:   log,
		qos:      cfg.QoS,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if token := c.Subscribe(pc.ackTopic, pc.qosFor("ack"), pc.onAck); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.cli = c
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (p *PahoClient) qosFor(kind string) byte {
	if q, ok := p.qos[kind]; ok {
		return q
	}
	return 0
}

// ackMessage is the payload on the acknowledgment topic.
type ackMessage struct {
	CommandID      string `json:"command_id"`
	ZoneID         string `json:"zone_id"`
	ResultingState string `json:"resulting_state"`
	Timestamp      int64  `json:"timestamp"`
}

func (p *PahoClient) onAck(_ paho.Client, msg paho.Message) {
	var m ackMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		p.logger.Errorf("failed to decode ack: %v", err)
		return
	}
	p.mu.Lock()
	ch, ok := p.ackChans[m.CommandID]
	p.mu.Unlock()
	if ok {
		select {
		case ch <- true:
		default:
		}
		p.logger.Debugf("received ack %s for %s", m.CommandID, m.ZoneID)
	}
}

// SendCommand publishes a relay command on the zone-specific topic and
// returns the command identifier used for acknowledgment tracking.
func (p *PahoClient) SendCommand(zoneID string, target model.RelayState) (string, error) {
	cmdID := uuid.NewString()
	payload, err := json.Marshal(struct {
		CommandID string `json:"command_id"`
		ZoneID    string `json:"zone_id"`
		Command   string `json:"command"`
		Timestamp int64  `json:"timestamp"`
	}{
		CommandID: cmdID,
		ZoneID:    zoneID,
		Command:   target.String(),
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.ackChans[cmdID] = make(chan bool, 1)
	p.mu.Unlock()

	topic := fmt.Sprintf("microgrid/zone/%s/command", zoneID)
	token := p.cli.Publish(topic, p.qosFor("command"), false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		p.dropAckChan(cmdID)
		return "", err
	}
	p.logger.Debugf("sent command %s to %s", cmdID, topic)
	return cmdID, nil
}

// WaitForAck blocks until the command is acknowledged or the timeout expires.
func (p *PahoClient) WaitForAck(commandID string, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	ch, ok := p.ackChans[commandID]
	p.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("unknown command %s", commandID)
	}
	defer p.dropAckChan(commandID)
	select {
	case <-ch:
		return true, nil
	case <-time.After(timeout):
		return false, command.ErrAckTimeout
	}
}

// PublishRaw publishes an arbitrary payload, used for notifications.
func (p *PahoClient) PublishRaw(topic string, qos byte, payload []byte) error {
	token := p.cli.Publish(topic, qos, false, payload)
	token.Wait()
	return token.Error()
}

func (p *PahoClient) dropAckChan(commandID string) {
	p.mu.Lock()
	delete(p.ackChans, commandID)
	p.mu.Unlock()
}

// Disconnect closes the broker connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
