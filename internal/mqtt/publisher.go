// Package mqtt mirrors bridge diagnostics to an MQTT broker so dashboards and
// home automation can follow actuator activity.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skyhap/bridge/internal/haptics"
	"github.com/skyhap/bridge/internal/monitoring"
)

// Config for the diagnostic publisher. The json tags match the mqtt section
// of the bridge configuration file.
type Config struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
	Retained    bool   `json:"retained"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

func (c *Config) SetDefaults() {
	if c.Broker == "" {
		c.Broker = "tcp://localhost:1883"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "skyhap/points"
	}
	if c.ClientID == "" {
		c.ClientID = "skyhap-" + uuid.NewString()[:8]
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return errors.New("mqtt broker is required when mqtt is enabled")
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if strings.ContainsAny(c.TopicPrefix, "+#") {
		return fmt.Errorf("mqtt topic prefix %q must not contain wildcards", c.TopicPrefix)
	}
	return nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// publishTimeout bounds how long a background publish may wait for the broker.
const publishTimeout = 5 * time.Second

// Message is the JSON payload published for each command.
type Message struct {
	Point  string  `json:"point"`
	Value  float64 `json:"value"`
	Index  int     `json:"index"`
	Target int     `json:"target"`
}

// Publisher implements bridge.DiagnosticSink on top of a paho client.
type Publisher struct {
	cli      pahoClient
	prefix   string
	qos      byte
	retained bool
	log      zerolog.Logger
}

// NewPublisher connects to the broker described by cfg.
func NewPublisher(cfg Config) (*Publisher, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := monitoring.Component("mqtt")

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("connection to broker lost")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, token.Error())
	}
	log.Info().Str("broker", cfg.Broker).Str("topic_prefix", cfg.TopicPrefix).Msg("connected to broker")

	return &Publisher{
		cli:      c,
		prefix:   strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:      cfg.QoS,
		retained: cfg.Retained,
		log:      log,
	}, nil
}

// Topic returns the topic a point's diagnostics are published under.
func (p *Publisher) Topic(point string) string {
	return p.prefix + "/" + point
}

// Publish sends the diagnostic without waiting for the broker. Delivery
// failures are logged from a background goroutine so a slow broker never
// holds up serial writes.
func (p *Publisher) Publish(d haptics.Diagnostic) error {
	payload, err := json.Marshal(Message{
		Point:  d.Point,
		Value:  d.Value,
		Index:  d.Command.Index,
		Target: d.Command.Target,
	})
	if err != nil {
		return fmt.Errorf("marshal diagnostic: %w", err)
	}
	if !p.cli.IsConnected() {
		return errors.New("mqtt client not connected")
	}

	topic := p.Topic(d.Point)
	token := p.cli.Publish(topic, p.qos, p.retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.log.Warn().Str("topic", topic).Msg("publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			p.log.Warn().Err(err).Str("topic", topic).Msg("publish failed")
		}
	}()
	return nil
}

func (p *Publisher) Close() {
	if p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
