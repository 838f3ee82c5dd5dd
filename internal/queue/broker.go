package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Broker is the minimal queue-store surface the pipeline needs. The
// production implementation is backed by Redis lists; tests substitute
// an in-memory fake.
type Broker interface {
	// Push appends a payload to the named queue.
	Push(ctx context.Context, queue string, payload []byte) error
	// Pop blocks up to timeout for a payload from the named queue and
	// returns (nil, nil) when the timeout elapses empty.
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
	// Len returns the queue depth.
	Len(ctx context.Context, queue string) (int64, error)
	Close() error
}

// RedisConfig holds connection settings for the Redis broker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type redisBroker struct {
	client *redis.Client
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(ctx context.Context, cfg RedisConfig) (Broker, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisBroker{client: client}, nil
}

func (b *redisBroker) Push(ctx context.Context, queue string, payload []byte) error {
	return b.client.LPush(ctx, queue, payload).Err()
}

func (b *redisBroker) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	values, err := b.client.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	// BRPOP returns [key, value].
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected brpop reply of %d values", len(values))
	}
	return []byte(values[1]), nil
}

func (b *redisBroker) Len(ctx context.Context, queue string) (int64, error) {
	return b.client.LLen(ctx, queue).Result()
}

func (b *redisBroker) Close() error {
	return b.client.Close()
}
