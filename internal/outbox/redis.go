package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/backoffice/internal/ledger"
)

// DefaultStream is the Redis stream ledger events are appended to.
const DefaultStream = "ledger:events"

// sensitiveFields never leave the process through the shared stream.
var sensitiveFields = []string{"code"}

// RedisStreamPublisher appends events to a capped Redis stream.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamPublisher builds a publisher writing to stream, trimmed to
// roughly maxLen entries when maxLen is positive.
func NewRedisStreamPublisher(client *redis.Client, stream string, maxLen int64) *RedisStreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Name identifies the publisher in relay logs.
func (p *RedisStreamPublisher) Name() string { return "redis-stream" }

// Publish appends ev to the stream.
func (p *RedisStreamPublisher) Publish(ctx context.Context, ev ledger.Event) error {
	payload := make(map[string]any, len(ev.Payload))
	for k, v := range ev.Payload {
		payload[k] = v
	}
	for _, k := range sensitiveFields {
		delete(payload, k)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"event_id":     ev.ID.String(),
			"type":         ev.Type,
			"aggregate_id": ev.AggregateID,
			"payload":      string(body),
			"occurred_at":  ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Err()
}
