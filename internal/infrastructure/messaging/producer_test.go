package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"latexbot-api/internal/application/pipeline"
)

func newTestProducer(t *testing.T) (*Producer, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewProducer(rdb, "test:outcomes", 100), rdb
}

func readMessages(t *testing.T, rdb *redis.Client) []Message {
	t.Helper()
	entries, err := rdb.XRange(context.Background(), "test:outcomes", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	msgs := make([]Message, 0, len(entries))
	for _, entry := range entries {
		var msg Message
		if err := json.Unmarshal([]byte(entry.Values["data"].(string)), &msg); err != nil {
			t.Fatalf("decode %s: %v", entry.ID, err)
		}
		if entry.Values["type"] != msg.Type {
			t.Fatalf("type field %v != %s", entry.Values["type"], msg.Type)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestPublishOutcome(t *testing.T) {
	p, rdb := newTestProducer(t)
	ctx := context.Background()

	committed := pipeline.Outcome{
		ID:         "run-1",
		RequestID:  "req-1",
		State:      pipeline.StateCommitted,
		Stage:      pipeline.StageCommit,
		Recorded:   true,
		Mode:       "reserve",
		Day:        "2024-03-10",
		HTTPStatus: 200,
		At:         time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	unrecorded := committed
	unrecorded.ID = "run-2"
	unrecorded.State = pipeline.StateDelivered
	unrecorded.Recorded = false

	for _, o := range []pipeline.Outcome{committed, unrecorded} {
		if err := p.PublishOutcome(ctx, o); err != nil {
			t.Fatalf("publish %s: %v", o.ID, err)
		}
	}

	msgs := readMessages(t, rdb)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Type != TypePipelineOutcome || msgs[1].Type != TypeDeliveredUnrecorded {
		t.Fatalf("types = %s, %s", msgs[0].Type, msgs[1].Type)
	}
	if msgs[0].GetMetadata("request_id") != "req-1" || msgs[0].GetMetadata("http_status") != "200" {
		t.Fatalf("metadata = %v", msgs[0].Metadata)
	}

	var decoded pipeline.Outcome
	if err := msgs[1].UnmarshalPayload(&decoded); err != nil {
		t.Fatal(err)
	}
	if !decoded.Unrecorded() || decoded.Day != "2024-03-10" {
		t.Fatalf("payload = %+v", decoded)
	}
}

func TestPublishFailsWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	p := NewProducer(rdb, "test:outcomes", 0)
	mr.Close()

	if err := p.PublishOutcome(context.Background(), pipeline.Outcome{ID: "run-1"}); err == nil {
		t.Fatal("expected publish error")
	}
}
