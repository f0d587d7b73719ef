package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"

	"fleetcore/config"
)

// Client publishes fleet events over the configured backend. Backend
// "none" accepts the config but stays disconnected; the outbox then just
// accumulates until an operator enables a broker.
type Client struct {
	mu      sync.Mutex
	cfg     config.MessagingConfig
	backend backend
}

type backend interface {
	Connect() error
	Publish(topic string, payload []byte) error
	Connected() bool
	Close()
}

func NewClient(cfg *config.MessagingConfig) *Client {
	return &Client{cfg: *cfg, backend: newBackend(cfg)}
}

func newBackend(cfg *config.MessagingConfig) backend {
	switch cfg.Backend {
	case "kafka":
		return &kafkaBackend{brokers: cfg.Brokers}
	case "mqtt":
		return &mqttBackend{brokerURL: cfg.BrokerURL, clientID: cfg.ClientID}
	default:
		return &noneBackend{}
	}
}

func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Connect()
}

func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.Lock()
	b := c.backend
	c.mu.Unlock()
	return b.Publish(topic, payload)
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Connected()
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend.Close()
}

// Reconfigure swaps the backend for the given config and reconnects.
func (c *Client) Reconfigure(cfg *config.MessagingConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend.Close()
	c.cfg = *cfg
	c.backend = newBackend(cfg)
	return c.backend.Connect()
}

// --- kafka ---

type kafkaBackend struct {
	brokers   []string
	writer    *kafka.Writer
	connected bool
}

func (k *kafkaBackend) Connect() error {
	if len(k.brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	k.writer = &kafka.Writer{
		Addr:                   kafka.TCP(k.brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	k.connected = true
	return nil
}

func (k *kafkaBackend) Publish(topic string, payload []byte) error {
	if k.writer == nil {
		return fmt.Errorf("kafka: not connected")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: payload})
}

func (k *kafkaBackend) Connected() bool { return k.connected }

func (k *kafkaBackend) Close() {
	if k.writer != nil {
		k.writer.Close()
		k.writer = nil
	}
	k.connected = false
}

// --- mqtt ---

type mqttBackend struct {
	brokerURL string
	clientID  string
	client    mqtt.Client
}

func (m *mqttBackend) Connect() error {
	if m.brokerURL == "" {
		return fmt.Errorf("mqtt: no broker_url configured")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(m.brokerURL).
		SetClientID(m.clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt: connect timeout")
	}
	return token.Error()
}

func (m *mqttBackend) Publish(topic string, payload []byte) error {
	if m.client == nil || !m.client.IsConnected() {
		return fmt.Errorf("mqtt: not connected")
	}
	token := m.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt: publish timeout")
	}
	return token.Error()
}

func (m *mqttBackend) Connected() bool {
	return m.client != nil && m.client.IsConnected()
}

func (m *mqttBackend) Close() {
	if m.client != nil {
		m.client.Disconnect(250)
		m.client = nil
	}
}

// --- none ---

type noneBackend struct{}

func (noneBackend) Connect() error { return nil }
func (noneBackend) Publish(string, []byte) error {
	return fmt.Errorf("messaging disabled")
}
func (noneBackend) Connected() bool { return false }
func (noneBackend) Close()          {}
