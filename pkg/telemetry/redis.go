package telemetry

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisConfig holds Redis publisher settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Key       string // latest snapshot, plain SET
	Stream    string // history, XADD; empty disables
	StreamLen int64  // approximate cap of the stream
}

// RedisPublisher stores the latest snapshot under a key and appends it to a
// capped stream.
type RedisPublisher struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisPublisher creates a publisher. The client connects lazily; Connect
// verifies the server answers.
func NewRedisPublisher(cfg RedisConfig) *RedisPublisher {
	return &RedisPublisher{
		cfg: cfg,
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (p *RedisPublisher) Name() string { return "redis" }

// Connect pings the server.
func (p *RedisPublisher) Connect(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis %s: %w", p.cfg.Addr, err)
	}
	return nil
}

// Publish writes the latest value and appends to the stream in one round
// trip.
func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.cfg.Key, payload, 0)
	if p.cfg.Stream != "" {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.cfg.Stream,
			MaxLen: p.cfg.StreamLen,
			Approx: p.cfg.StreamLen > 0,
			Values: map[string]interface{}{
				"data": string(payload),
				"seq":  msg.Seq,
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close closes the client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
