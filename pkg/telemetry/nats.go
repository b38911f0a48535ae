package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig holds NATS publisher settings.
type NATSConfig struct {
	URL     string
	Name    string
	Subject string
}

// natsConn is the part of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes snapshots to one subject.
type NATSPublisher struct {
	cfg  NATSConfig
	dial func(ctx context.Context) (natsConn, error)
	conn natsConn
}

// NewNATSPublisher creates a publisher. Nothing is sent on the network
// until Connect.
func NewNATSPublisher(cfg NATSConfig) *NATSPublisher {
	p := &NATSPublisher{cfg: cfg}
	p.dial = func(ctx context.Context) (natsConn, error) {
		timeout := 3 * time.Second
		if dl, ok := ctx.Deadline(); ok {
			if until := time.Until(dl); until < timeout {
				timeout = until
			}
		}
		return nats.Connect(
			cfg.URL,
			nats.Name(cfg.Name),
			nats.Timeout(timeout),
			nats.ReconnectWait(500*time.Millisecond),
			nats.MaxReconnects(-1),
		)
	}
	return p
}

func (p *NATSPublisher) Name() string { return "nats" }

// Connect dials the server.
func (p *NATSPublisher) Connect(ctx context.Context) error {
	conn, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS %s: %w", p.cfg.URL, err)
	}
	p.conn = conn
	return nil
}

// Publish sends msg as JSON. The client buffers while reconnecting.
func (p *NATSPublisher) Publish(ctx context.Context, msg Message) error {
	if p.conn == nil {
		return fmt.Errorf("nats: not connected")
	}
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.cfg.Subject, payload)
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
