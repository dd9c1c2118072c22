package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-lang/objgraph/internal/commit"
)

// DefaultChannel is the Redis channel commits are published on
const DefaultChannel = "objgraph:commits"

// RedisConfig holds the publisher connection settings
type RedisConfig struct {
	// Addr is the Redis server address (host:port)
	Addr string
	// Password is the Redis password (optional)
	Password string
	// DB is the Redis database number
	DB int
	// Channel is the pub/sub channel, DefaultChannel when empty
	Channel string
}

// RedisPublisher publishes an Event for every commit
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection
func NewRedisPublisher(cfg RedisConfig, logger *zap.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisPublisherWithClient(client, cfg.Channel, logger), nil
}

// NewRedisPublisherWithClient creates a publisher over an existing client
func NewRedisPublisherWithClient(client *redis.Client, channel string, logger *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// CommitCompleted implements commit.Listener
func (p *RedisPublisher) CommitCompleted(ctx context.Context, n commit.Notification) error {
	payload, err := json.Marshal(NewEvent(n, nil))
	if err != nil {
		return fmt.Errorf("failed to encode commit event: %w", err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish commit event: %w", err)
	}
	p.logger.Debug("commit event published",
		zap.String("batch_id", n.BatchID),
		zap.String("channel", p.channel),
		zap.Int64("receivers", receivers))
	return nil
}

// Close closes the Redis client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
