package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient is an interface for MQTT client operations.
// This allows us to mock MQTT calls in tests.
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// DefaultMQTTClient wraps the paho MQTT client
type DefaultMQTTClient struct {
	client mqtt.Client
}

func (d *DefaultMQTTClient) Connect() mqtt.Token {
	return d.client.Connect()
}

func (d *DefaultMQTTClient) Disconnect(quiesce uint) {
	d.client.Disconnect(quiesce)
}

func (d *DefaultMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return d.client.Publish(topic, qos, retained, payload)
}

func (d *DefaultMQTTClient) IsConnected() bool {
	return d.client.IsConnected()
}

// MQTTPublisher publishes routing events to an MQTT broker so external
// systems (dashboards, alerting) can watch spend in real time.
type MQTTPublisher struct {
	topic  string
	logger *slog.Logger
	client MQTTClient
}

// NewMQTT connects to the broker and returns a publisher. topic is the
// prefix; events land on "<topic>/<kind>".
func NewMQTT(brokerURL, topic string, logger *slog.Logger) (*MQTTPublisher, error) {
	factory := func(opts *mqtt.ClientOptions) MQTTClient {
		return &DefaultMQTTClient{client: mqtt.NewClient(opts)}
	}
	return NewMQTTWithClient(brokerURL, topic, logger, factory)
}

// NewMQTTWithClient is NewMQTT with a custom client factory (for testing).
func NewMQTTWithClient(brokerURL, topic string, logger *slog.Logger, factory func(*mqtt.ClientOptions) MQTTClient) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("pennywise-%d", time.Now().Unix()))
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	p := &MQTTPublisher{
		topic:  topic,
		logger: logger.With("component", "events"),
		client: factory(opts),
	}

	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout to %s", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	p.logger.Info("mqtt publisher connected", "broker", brokerURL, "topic", topic)
	return p, nil
}

// Publish sends the event at QoS 0. Delivery is fire-and-forget; a
// disconnected broker drops events rather than blocking routing.
func (p *MQTTPublisher) Publish(ev Event) {
	if !p.client.IsConnected() {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshal event", "error", err)
		return
	}
	p.client.Publish(p.topic+"/"+ev.Kind, 0, false, data)
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
