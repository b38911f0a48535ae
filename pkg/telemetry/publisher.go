package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	deverrors "heartglow/pkg/errors"
)

// Publisher sends messages to one broker.
type Publisher interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Connect establishes the connection. It must honor ctx.
	Connect(ctx context.Context) error

	Publish(ctx context.Context, msg Message) error
	Close() error
}

// PumpConfig holds publication settings.
type PumpConfig struct {
	Device   string
	Interval time.Duration
	Timeout  time.Duration // per publish
}

// DefaultPumpConfig returns the default publication settings.
func DefaultPumpConfig() PumpConfig {
	return PumpConfig{
		Device:   "heartglow",
		Interval: 250 * time.Millisecond,
		Timeout:  time.Second,
	}
}

// Pump periodically publishes the latest snapshot to the hub and every
// connected publisher. It runs on its own goroutine.
type Pump struct {
	cfg        PumpConfig
	store      *Store
	hub        *Hub
	publishers []Publisher
	session    string
	logger     *zap.Logger
	now        func() time.Time

	seq     uint64
	lastVer uint64

	// OnPublish is called with the result of every publication.
	OnPublish func(sink string, err error)
}

// NewPump creates a pump. Each boot gets a fresh session id.
func NewPump(cfg PumpConfig, store *Store, hub *Hub, publishers []Publisher, logger *zap.Logger) *Pump {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPumpConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPumpConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pump{
		cfg:        cfg,
		store:      store,
		hub:        hub,
		publishers: publishers,
		session:    uuid.NewString(),
		logger:     logger,
		now:        time.Now,
	}
}

// Session returns the boot session id carried by every message.
func (p *Pump) Session() string {
	return p.session
}

// Run publishes every interval until ctx is cancelled.
func (p *Pump) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PublishOnce(ctx)
		}
	}
}

// PublishOnce sends the current snapshot if it changed since the last call.
// It reports whether anything was sent.
func (p *Pump) PublishOnce(ctx context.Context) bool {
	snap, ver := p.store.Load()
	if ver == p.lastVer {
		return false
	}
	p.lastVer = ver

	if p.hub != nil {
		p.hub.Broadcast(snap)
	}
	if len(p.publishers) == 0 {
		return true
	}

	p.seq++
	msg := Message{
		Device:    p.cfg.Device,
		Session:   p.session,
		Seq:       p.seq,
		Timestamp: p.now().UTC(),
		Snapshot:  snap,
	}
	for _, pub := range p.publishers {
		pctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		err := pub.Publish(pctx, msg)
		cancel()
		if err != nil {
			err = deverrors.PublishError(pub.Name(), err)
			p.logger.Debug("publish failed", zap.String("sink", pub.Name()), zap.Error(err))
		}
		if p.OnPublish != nil {
			p.OnPublish(pub.Name(), err)
		}
	}
	return true
}

// Close closes every publisher.
func (p *Pump) Close() {
	for _, pub := range p.publishers {
		if err := pub.Close(); err != nil {
			p.logger.Warn("failed to close publisher", zap.String("sink", pub.Name()), zap.Error(err))
		}
	}
}

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
