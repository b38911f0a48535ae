package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"heartglow/pkg/config"
	deverrors "heartglow/pkg/errors"
	"heartglow/pkg/metrics"
	"heartglow/pkg/telemetry"
)

func newPublishers(cfg config.NetworkConfig) []telemetry.Publisher {
	var pubs []telemetry.Publisher
	if cfg.MQTT != nil {
		pubs = append(pubs, telemetry.NewMQTTPublisher(*cfg.MQTT))
	}
	if cfg.NATS != nil {
		pubs = append(pubs, telemetry.NewNATSPublisher(*cfg.NATS))
	}
	if cfg.Redis != nil {
		pubs = append(pubs, telemetry.NewRedisPublisher(*cfg.Redis))
	}
	return pubs
}

// startNetwork brings up the debug server and connects the publishers in
// parallel, bounded by the startup timeout. Services that fail or time out
// are logged and left out; the device always continues locally.
func (d *Device) startNetwork(ctx context.Context) {
	if d.server == nil {
		return
	}
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, d.cfg.StartupTimeout)
	defer cancel()

	var (
		mu        sync.Mutex
		connected []telemetry.Publisher
	)
	observe := func(service string, began time.Time, err error) error {
		d.metrics.StartupDuration.WithLabelValues(service).Set(time.Since(began).Seconds())
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = deverrors.StartupTimeout(service, err)
		}
		d.logger.Warn("network service unavailable", zap.String("service", service), zap.Error(err))
		return err
	}

	var g errgroup.Group
	g.Go(func() error {
		return observe("server", time.Now(), d.server.Listen())
	})
	for _, pub := range d.publishers {
		g.Go(func() error {
			began := time.Now()
			if err := observe(pub.Name(), began, pub.Connect(sctx)); err != nil {
				pub.Close()
				return err
			}
			mu.Lock()
			connected = append(connected, pub)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	switch {
	case err == nil:
		d.network = "up"
	case len(connected) == 0 && !d.server.IsRunning():
		d.network = "down"
	default:
		d.network = "degraded"
	}
	if sctx.Err() != nil {
		d.logger.Warn("network startup timed out, continuing locally",
			zap.Error(deverrors.StartupTimeout("network", sctx.Err())))
	}

	d.pump = telemetry.NewPump(d.cfg.Network.Pump, d.store, d.hub, connected, d.logger.Named("pump"))
	d.pump.OnPublish = func(sink string, err error) {
		d.metrics.PublishTotal.WithLabelValues(sink, metrics.Result(err)).Inc()
	}
	d.logger.Info("network started",
		zap.String("state", d.network),
		zap.Int("publishers", len(connected)),
		zap.String("session", d.pump.Session()),
		zap.Duration("took", time.Since(start)))
}
