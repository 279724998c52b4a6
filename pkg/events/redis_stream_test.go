package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisStreamPublisherAppendsEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p, err := NewRedisStreamPublisher(client, "", 0)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	ctx := context.Background()
	if err := p.PublishLeadAccepted(ctx, LeadAccepted{LeadID: "l1", FormID: "f1", Email: "v@x.io"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := client.XRange(ctx, "leadhero:events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	vals := msgs[0].Values
	if vals["type"] != RoutingLeadAccepted || vals["lead_id"] != "l1" || vals["form_id"] != "f1" {
		t.Fatalf("unexpected values: %+v", vals)
	}
	var ev LeadAccepted
	if err := json.Unmarshal([]byte(vals["payload"].(string)), &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.Email != "v@x.io" {
		t.Fatalf("unexpected payload: %+v", ev)
	}
}

func TestNewRedisStreamPublisherRequiresClient(t *testing.T) {
	if _, err := NewRedisStreamPublisher(nil, "s", 1); err == nil {
		t.Fatal("expected error for nil client")
	}
}
