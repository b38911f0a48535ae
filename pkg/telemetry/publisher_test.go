package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deverrors "heartglow/pkg/errors"
)

type fakePublisher struct {
	name string
	err  error
	msgs []Message
}

func (p *fakePublisher) Name() string                      { return p.name }
func (p *fakePublisher) Connect(ctx context.Context) error { return nil }
func (p *fakePublisher) Close() error                      { return nil }

func (p *fakePublisher) Publish(ctx context.Context, msg Message) error {
	p.msgs = append(p.msgs, msg)
	return p.err
}

func TestPumpPublishesChangedSnapshots(t *testing.T) {
	store := NewStore()
	ok := &fakePublisher{name: "ok"}
	bad := &fakePublisher{name: "bad", err: errors.New("broker down")}
	cfg := DefaultPumpConfig()
	cfg.Device = "ring-1"
	pump := NewPump(cfg, store, nil, []Publisher{ok, bad}, nil)
	pump.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	results := map[string]error{}
	pump.OnPublish = func(sink string, err error) { results[sink] = err }

	// Nothing stored yet.
	assert.False(t, pump.PublishOnce(context.Background()))

	store.Publish(Snapshot{IR: 10})
	assert.True(t, pump.PublishOnce(context.Background()))
	// Unchanged snapshot is not resent.
	assert.False(t, pump.PublishOnce(context.Background()))

	store.Publish(Snapshot{IR: 11})
	assert.True(t, pump.PublishOnce(context.Background()))

	require.Len(t, ok.msgs, 2)
	assert.Equal(t, "ring-1", ok.msgs[0].Device)
	assert.Equal(t, uint64(1), ok.msgs[0].Seq)
	assert.Equal(t, uint64(2), ok.msgs[1].Seq)
	assert.Equal(t, 11, ok.msgs[1].IR)
	assert.Equal(t, pump.Session(), ok.msgs[0].Session)
	_, err := uuid.Parse(pump.Session())
	assert.NoError(t, err)

	assert.NoError(t, results["ok"])
	assert.True(t, deverrors.HasCode(results["bad"], deverrors.ErrPublish))
	// A failing sink does not stop the others.
	assert.Len(t, bad.msgs, 2)
}

func TestPumpRunStops(t *testing.T) {
	store := NewStore()
	pub := &fakePublisher{name: "p"}
	cfg := DefaultPumpConfig()
	cfg.Interval = 5 * time.Millisecond
	pump := NewPump(cfg, store, nil, []Publisher{pub}, nil)
	store.Publish(Snapshot{IR: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pump.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
	assert.Len(t, pub.msgs, 1)
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	pub := NewRedisPublisher(RedisConfig{
		Addr:      mr.Addr(),
		Key:       "heartglow:ring-1:latest",
		Stream:    "heartglow:ring-1:history",
		StreamLen: 100,
	})
	defer pub.Close()

	ctx := context.Background()
	require.NoError(t, pub.Connect(ctx))

	v := 64
	for i := 1; i <= 3; i++ {
		msg := Message{Device: "ring-1", Seq: uint64(i), Snapshot: Snapshot{IR: 50000 + i, BPMAvg: &v}}
		require.NoError(t, pub.Publish(ctx, msg))
	}

	latest, err := mr.Get("heartglow:ring-1:latest")
	require.NoError(t, err)
	var got Message
	require.NoError(t, json.Unmarshal([]byte(latest), &got))
	assert.Equal(t, 50003, got.IR)
	assert.Equal(t, 64, *got.BPMAvg)

	entries, err := mr.Stream("heartglow:ring-1:history")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRedisPublisherConnectFails(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	pub := NewRedisPublisher(RedisConfig{Addr: addr, Key: "k"})
	defer pub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, pub.Connect(ctx))
}

// fakeToken completes immediately with err.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTTClient struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	published  map[string][]byte
	qos        byte
}

func (c *fakeMQTTClient) IsConnected() bool      { return c.connected }
func (c *fakeMQTTClient) IsConnectionOpen() bool { return c.connected }

func (c *fakeMQTTClient) Connect() mqtt.Token {
	if c.connectErr == nil {
		c.connected = true
	}
	return newFakeToken(c.connectErr)
}

func (c *fakeMQTTClient) Disconnect(quiesce uint) { c.connected = false }

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.published == nil {
		c.published = map[string][]byte{}
	}
	c.published[topic] = payload.([]byte)
	c.qos = qos
	return newFakeToken(nil)
}

func (c *fakeMQTTClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return newFakeToken(nil)
}

func (c *fakeMQTTClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return newFakeToken(nil)
}

func (c *fakeMQTTClient) Unsubscribe(...string) mqtt.Token { return newFakeToken(nil) }

func (c *fakeMQTTClient) AddRoute(string, mqtt.MessageHandler) {}

func (c *fakeMQTTClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func TestMQTTPublisher(t *testing.T) {
	client := &fakeMQTTClient{}
	pub := newMQTTPublisher(MQTTConfig{Topic: "heartglow/ring-1/state", QoS: 1}, client)

	ctx := context.Background()
	assert.Error(t, pub.Publish(ctx, Message{}), "publish before connect")

	require.NoError(t, pub.Connect(ctx))
	require.NoError(t, pub.Publish(ctx, Message{Device: "ring-1", Snapshot: Snapshot{IR: 7}}))

	var got Message
	require.NoError(t, json.Unmarshal(client.published["heartglow/ring-1/state"], &got))
	assert.Equal(t, 7, got.IR)
	assert.Equal(t, byte(1), client.qos)

	require.NoError(t, pub.Close())
	assert.False(t, client.IsConnected())
}

func TestMQTTPublisherConnectError(t *testing.T) {
	client := &fakeMQTTClient{connectErr: errors.New("not authorized")}
	pub := newMQTTPublisher(MQTTConfig{Broker: "tcp://broker:1883"}, client)

	err := pub.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
}

type fakeNATSConn struct {
	subjects []string
	payloads [][]byte
	drained  bool
}

func (c *fakeNATSConn) Publish(subject string, data []byte) error {
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *fakeNATSConn) Drain() error {
	c.drained = true
	return nil
}

func TestNATSPublisher(t *testing.T) {
	conn := &fakeNATSConn{}
	pub := NewNATSPublisher(NATSConfig{URL: "nats://127.0.0.1:4222", Subject: "heartglow.ring-1.state"})
	pub.dial = func(context.Context) (natsConn, error) { return conn, nil }

	ctx := context.Background()
	assert.Error(t, pub.Publish(ctx, Message{}), "publish before connect")
	require.NoError(t, pub.Connect(ctx))
	require.NoError(t, pub.Publish(ctx, Message{Seq: 4}))

	require.Equal(t, []string{"heartglow.ring-1.state"}, conn.subjects)
	var got Message
	require.NoError(t, json.Unmarshal(conn.payloads[0], &got))
	assert.Equal(t, uint64(4), got.Seq)

	require.NoError(t, pub.Close())
	assert.True(t, conn.drained)
}

func TestNATSPublisherDialError(t *testing.T) {
	pub := NewNATSPublisher(NATSConfig{URL: "nats://127.0.0.1:4222"})
	pub.dial = func(context.Context) (natsConn, error) { return nil, errors.New("connection refused") }

	assert.Error(t, pub.Connect(context.Background()))
	assert.NoError(t, pub.Close())
}
