package telemetry

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds MQTT publisher settings.
type MQTTConfig struct {
	Broker   string // e.g. tcp://broker:1883
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retained bool
}

// MQTTPublisher publishes snapshots to one topic.
type MQTTPublisher struct {
	cfg    MQTTConfig
	client mqtt.Client
}

// NewMQTTPublisher creates a publisher. Nothing is sent on the network
// until Connect.
func NewMQTTPublisher(cfg MQTTConfig) *MQTTPublisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectRetry(false)
	return newMQTTPublisher(cfg, mqtt.NewClient(opts))
}

func newMQTTPublisher(cfg MQTTConfig, client mqtt.Client) *MQTTPublisher {
	return &MQTTPublisher{cfg: cfg, client: client}
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

// Connect connects to the broker.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	if err := waitToken(ctx, p.client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", p.cfg.Broker, err)
	}
	return nil
}

// Publish sends msg as JSON.
func (p *MQTTPublisher) Publish(ctx context.Context, msg Message) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt: not connected")
	}
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	if err := waitToken(ctx, p.client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retained, payload)); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", p.cfg.Topic, err)
	}
	return nil
}

// Close disconnects, waiting up to 250ms for in-flight work.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
