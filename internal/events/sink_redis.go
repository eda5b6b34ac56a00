package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// eventStreamKey is the Redis stream production telemetry consumes from.
	eventStreamKey = "vigil:security-events"

	// eventStreamMaxLen caps the stream so an unconsumed stream cannot grow
	// without bound. Approximate trimming (~) keeps XADD cheap.
	eventStreamMaxLen = 100_000
)

// RedisSink publishes events to a capped Redis stream. This is the
// production telemetry path; SIEM-side consumers read the stream with
// consumer groups.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Write(ctx context.Context, event SecurityEvent) error {
	values := map[string]any{
		"id":        event.ID.String(),
		"category":  string(event.Category),
		"action":    event.Action,
		"outcome":   string(event.Outcome),
		"timestamp": event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.Detail != nil {
		for k, v := range event.Detail.Fields() {
			values["detail_"+k] = v
		}
	}

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStreamKey,
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd security event: %w", err)
	}
	return nil
}
