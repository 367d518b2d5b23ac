package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher публикует события в Redis pub/sub.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

// NewRedisPublisher создаёт публикатор в канал Channel.
func NewRedisPublisher(client *redis.Client, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: Channel, log: log}
}

// Publish сериализует событие в JSON и публикует его.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	receivers, err := p.client.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	p.log.Debug("event published",
		zap.String("type", event.Type),
		zap.String("project_id", event.ProjectID),
		zap.Int64("receivers", receivers),
	)
	return nil
}
