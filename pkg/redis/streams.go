package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

// payloadField is the single stream field carrying the JSON document.
const payloadField = "data"

// StreamBus publishes and consumes JSON documents over Redis streams.
type StreamBus struct {
	client *Client
	logger *logger.Logger
}

// NewStreamBus wraps a connected client.
func NewStreamBus(client *Client, log *logger.Logger) *StreamBus {
	return &StreamBus{client: client, logger: log.Named("stream-bus")}
}

// Append marshals payload and appends it to stream, trimming approximately
// to maxLen so the stream stays bounded without exact-trim cost.
func (b *StreamBus) Append(ctx context.Context, stream string, maxLen int64, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload for %s: %w", stream, err)
	}
	id, err := b.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{payloadField: data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group if it does not exist yet. startID
// is usually "$" so a new group only sees entries appended after creation.
func (b *StreamBus) EnsureGroup(ctx context.Context, stream, group, startID string) error {
	err := b.client.rdb.XGroupCreateMkStream(ctx, stream, group, startID).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Message is one consumed stream entry.
type Message struct {
	Stream string
	ID     string
	Data   []byte
}

// Handler processes one message. A nil return acknowledges the entry;
// an error leaves it pending for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Consume reads stream entries for the given group until ctx is cancelled.
// Entries without the expected payload field are acknowledged and skipped.
func (b *StreamBus) Consume(ctx context.Context, stream, group, consumer string, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := b.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    64,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			b.logger.Warn("Stream read failed, retrying",
				zap.String("stream", stream),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range res {
			for _, entry := range s.Messages {
				raw, ok := entry.Values[payloadField]
				if !ok {
					b.ack(ctx, stream, group, entry.ID)
					continue
				}
				data, err := coercePayload(raw)
				if err != nil {
					b.logger.Warn("Dropping malformed stream entry",
						zap.String("stream", stream),
						zap.String("id", entry.ID),
						zap.Error(err))
					b.ack(ctx, stream, group, entry.ID)
					continue
				}
				if err := handler(ctx, Message{Stream: stream, ID: entry.ID, Data: data}); err != nil {
					b.logger.Warn("Handler failed, entry left pending",
						zap.String("stream", stream),
						zap.String("id", entry.ID),
						zap.Error(err))
					continue
				}
				b.ack(ctx, stream, group, entry.ID)
			}
		}
	}
}

func (b *StreamBus) ack(ctx context.Context, stream, group, id string) {
	if err := b.client.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		b.logger.Warn("Ack failed",
			zap.String("stream", stream),
			zap.String("id", id),
			zap.Error(err))
	}
}

func coercePayload(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected payload type %T", raw)
	}
}
