package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/behzadon/gather/internal/domain"
)

// RedisPublisher fans events out to realtime subscribers on a per-poll and a
// per-event channel.
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		logger: logger,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, event domain.PollEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	for _, topic := range []string{event.PollTopic(), event.EventTopic()} {
		if err := p.client.Publish(ctx, topic, data).Err(); err != nil {
			return fmt.Errorf("publish %s event to %s: %w", event.Type, topic, err)
		}
	}

	p.logger.Debug("published realtime event",
		zap.String("type", string(event.Type)),
		zap.String("poll_id", event.PollID.String()),
		zap.String("event_id", event.EventID.String()),
	)

	return nil
}

// Close is a no-op; the client is shared with the cache and rate limiter.
func (p *RedisPublisher) Close() error {
	return nil
}
