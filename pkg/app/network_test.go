package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartglow/pkg/config"
	"heartglow/pkg/led"
	"heartglow/pkg/telemetry"
)

type downPublisher struct{ closed bool }

func (p *downPublisher) Name() string                      { return "down" }
func (p *downPublisher) Connect(ctx context.Context) error { return errors.New("connection refused") }
func (p *downPublisher) Publish(ctx context.Context, msg telemetry.Message) error {
	return errors.New("not connected")
}
func (p *downPublisher) Close() error { p.closed = true; return nil }

// slowPublisher holds every publication until its context ends and then
// lingers, like a broker round trip finishing after cancellation.
type slowPublisher struct {
	inFlight  atomic.Int32
	published atomic.Int32
	overlap   atomic.Bool
	closed    atomic.Bool
}

func (p *slowPublisher) Name() string                      { return "slow" }
func (p *slowPublisher) Connect(ctx context.Context) error { return nil }
func (p *slowPublisher) Publish(ctx context.Context, msg telemetry.Message) error {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	p.published.Add(1)
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	return ctx.Err()
}
func (p *slowPublisher) Close() error {
	if p.inFlight.Load() != 0 {
		p.overlap.Store(true)
	}
	p.closed.Store(true)
	return nil
}

func networkConfig() *config.DeviceConfig {
	cfg := testConfig()
	cfg.Sensor.Driver = config.DriverSim
	cfg.Loop.Yield = time.Millisecond
	cfg.StartupTimeout = time.Second
	cfg.Network.Enabled = true
	cfg.Network.Server.Address = "127.0.0.1:0"
	cfg.Network.Pump.Interval = 20 * time.Millisecond
	return cfg
}

func runFor(t *testing.T, dev *Device, until func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- dev.Run(ctx) }()

	require.Eventually(t, until, 3*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunPublishesToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := networkConfig()
	cfg.Network.Redis = &telemetry.RedisConfig{Addr: mr.Addr(), Key: "heartglow:state"}

	dev, err := New(cfg, Options{Transport: &led.MemoryTransport{}})
	require.NoError(t, err)

	runFor(t, dev, func() bool { return mr.Exists("heartglow:state") })

	raw, err := mr.Get("heartglow:state")
	require.NoError(t, err)
	var msg telemetry.Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, "heartglow", msg.Device)
	assert.NotEmpty(t, msg.Session)
	assert.Positive(t, msg.Seq)

	assert.Equal(t, "up", dev.Store().Status().Network)
	assert.Positive(t, testutil.ToFloat64(dev.Metrics().PublishTotal.WithLabelValues("redis", "success")))
}

func TestRunContinuesWhenPublisherDown(t *testing.T) {
	down := &downPublisher{}
	dev, err := New(networkConfig(), Options{
		Transport:  &led.MemoryTransport{},
		Publishers: []telemetry.Publisher{down},
	})
	require.NoError(t, err)

	runFor(t, dev, func() bool {
		return testutil.ToFloat64(dev.Metrics().Samples) > 20
	})

	assert.True(t, down.closed)
	assert.Equal(t, "degraded", dev.Store().Status().Network)
	assert.Equal(t, 0.0, testutil.ToFloat64(dev.Metrics().PublishTotal.WithLabelValues("down", "error")))
}

func TestRunClosesPublishersAfterPump(t *testing.T) {
	slow := &slowPublisher{}
	cfg := networkConfig()
	cfg.Network.Pump.Timeout = 10 * time.Second
	dev, err := New(cfg, Options{
		Transport:  &led.MemoryTransport{},
		Publishers: []telemetry.Publisher{slow},
	})
	require.NoError(t, err)

	runFor(t, dev, func() bool { return slow.published.Load() > 0 })

	assert.True(t, slow.closed.Load())
	assert.False(t, slow.overlap.Load(), "publisher closed while a publication was in flight")
}
