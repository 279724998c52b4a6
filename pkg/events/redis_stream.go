package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultStreamMaxLen = 10000

// RedisStreamPublisher appends events to a capped Redis stream. It is used
// when no broker is configured but Redis already backs sessions and limits.
type RedisStreamPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisStreamPublisher builds a publisher on a shared Redis client.
func NewRedisStreamPublisher(client redis.UniversalClient, stream string, maxLen int64) (*RedisStreamPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream = strings.TrimSpace(stream)
	if stream == "" {
		stream = "leadhero:events"
	}
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}, nil
}

// PublishLeadAccepted appends ev with its routing key.
func (p *RedisStreamPublisher) PublishLeadAccepted(ctx context.Context, ev LeadAccepted) error {
	body, err := ev.encode()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":    RoutingLeadAccepted,
			"lead_id": ev.LeadID,
			"form_id": ev.FormID,
			"payload": string(body),
		},
	}).Err()
}

// Close is a no-op; the client is owned by the caller.
func (p *RedisStreamPublisher) Close() error { return nil }
