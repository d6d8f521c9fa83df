package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// WorkflowRequestQueue receives payload announcements
	WorkflowRequestQueue = "gateway.workflow.request"
	// ExportCompleteQueue receives export completion reports
	ExportCompleteQueue = "gateway.export.complete"
)

// RedisPublisher implements Publisher on top of redis lists. Events are
// msgpack-encoded and pushed to per-event queues.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects to redis and verifies the connection
func NewRedisPublisher(addr, password string, db int) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPublisher{client: client}, nil
}

// NewRedisPublisherWithClient wraps an existing client; used by tests
func NewRedisPublisherWithClient(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Notify announces a completed payload for workflow processing
func (p *RedisPublisher) Notify(ctx context.Context, event *models.WorkflowRequestEvent) error {
	if err := p.push(ctx, WorkflowRequestQueue, event); err != nil {
		return err
	}
	log.Info().
		Str("payload_id", event.PayloadID).
		Str("correlation_id", event.CorrelationID).
		Int("file_count", event.FileCount).
		Msg("Workflow request published")
	return nil
}

// Publish reports the terminal outcome of an export
func (p *RedisPublisher) Publish(ctx context.Context, event *models.ExportCompleteEvent) error {
	if err := p.push(ctx, ExportCompleteQueue, event); err != nil {
		return err
	}
	log.Info().
		Str("payload_id", event.PayloadID).
		Str("destination", event.Destination).
		Str("status", string(event.Status)).
		Msg("Export completion published")
	return nil
}

func (p *RedisPublisher) push(ctx context.Context, queue string, event interface{}) error {
	encoded, err := msgpack.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if err := p.client.RPush(ctx, queue, encoded).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

// Close closes the redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
