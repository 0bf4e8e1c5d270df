package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

// StreamsEventBus implements EventBus using Redis Streams with consumer
// groups. It backs the realtime publisher: subscribers such as the
// websocket layer consume run events from here.
type StreamsEventBus struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
}

// NewStreamsEventBus creates a new Redis Streams event bus.
func NewStreamsEventBus(client *redis.Client, consumerGroup, consumerName string, logger *zap.Logger) (*StreamsEventBus, error) {
	return &StreamsEventBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
	}, nil
}

// Publish publishes a run event to the stream backing the topic.
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.RunEvent) error {
	streamKey := getStreamKey(topic)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}

	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("run_id", event.RunID),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe subscribes to run events on a specific topic. The topic is a
// fan-out boundary: every subscriber must see every event, so each
// subscription gets its own consumer group rather than competing for
// messages within a shared one. The group starts at the stream tail;
// subscribers are realtime watchers, not replay consumers.
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := getStreamKey(topic)
	group := e.subscriptionGroup()

	if err := e.client.XGroupCreateMkStream(ctx, streamKey, group, "$").Err(); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("topic", topic),
		zap.String("consumer_group", group),
		zap.String("consumer", e.consumerName))

	go e.readStream(ctx, streamKey, group, handler)

	return nil
}

// subscriptionGroup returns a fresh consumer group name for one
// subscription.
func (e *StreamsEventBus) subscriptionGroup() string {
	return fmt.Sprintf("%s-%s", e.consumerGroup, uuid.NewString())
}

// readStream reads events from a stream until the context is cancelled,
// then drops the subscription's consumer group.
func (e *StreamsEventBus) readStream(ctx context.Context, streamKey, group string, handler ports.EventHandler) {
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.client.XGroupDestroy(cleanupCtx, streamKey, group).Err(); err != nil {
			e.logger.Warn("failed to remove consumer group",
				zap.String("stream", streamKey),
				zap.String("consumer_group", group),
				zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    group,
				Consumer: e.consumerName,
				Streams:  []string{streamKey, ">"},
				Count:    10,
				Block:    time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					continue // no new messages
				}
				if ctx.Err() != nil {
					return
				}
				e.logger.Error("failed to read from stream",
					zap.String("stream", streamKey),
					zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					e.processMessage(ctx, streamKey, group, message, handler)
				}
			}
		}
	}
}

// processMessage processes a single message from the stream.
func (e *StreamsEventBus) processMessage(ctx context.Context, streamKey, group string, message redis.XMessage, handler ports.EventHandler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return
	}

	var event domain.RunEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := e.client.XAck(ctx, streamKey, group, message.ID).Err(); err != nil {
		e.logger.Error("failed to acknowledge message",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// Close closes the event bus. The Redis client is owned and closed by the
// caller.
func (e *StreamsEventBus) Close() error {
	return nil
}

// getStreamKey returns the Redis stream key for a topic.
func getStreamKey(topic string) string {
	return fmt.Sprintf("nectar:events:%s", topic)
}
