// Package notify provides the Redis-backed notification queue adapter.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/healthcompanion/processor/internal/core"
)

// RedisChannel consumes notification messages from a Redis list. Producers
// RPUSH message bodies onto the queue; the consumer pops from the head so
// delivery order follows enqueue order.
type RedisChannel struct {
	client redis.UniversalClient
	queue  string
}

// NewRedisChannel creates a channel bound to the given queue key.
func NewRedisChannel(client redis.UniversalClient, queue string) (*RedisChannel, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if queue == "" {
		return nil, errors.New("queue name is required")
	}
	return &RedisChannel{client: client, queue: queue}, nil
}

// Receive blocks up to timeout for the next message. A nil message with
// nil error means the wait elapsed with nothing queued.
func (c *RedisChannel) Receive(ctx context.Context, timeout time.Duration) (*core.Message, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	res, err := c.client.BLPop(ctx, timeout, c.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis blpop: %w", err)
	}
	// BLPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("redis blpop: unexpected reply length %d", len(res))
	}
	return &core.Message{
		ID:   uuid.NewString(),
		Body: []byte(res[1]),
	}, nil
}

// Complete settles a message. Popping already removed it from the list,
// so settlement is a no-op kept for interface symmetry with brokered queues.
func (c *RedisChannel) Complete(_ context.Context, msg *core.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	return nil
}

// Abandon returns a message to the head of the queue for redelivery.
func (c *RedisChannel) Abandon(ctx context.Context, msg *core.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if err := c.client.LPush(ctx, c.queue, msg.Body).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}
