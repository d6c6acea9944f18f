package progress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisSink_PublishesToNamedChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sink := NewRedisSink(rdb, "run-123", nil)
	if sink.Channel() != "benchrun:run-123" {
		t.Fatalf("channel = %q, want benchrun:run-123", sink.Channel())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := rdb.Subscribe(ctx, sink.Channel())
	defer sub.Close()
	// Ensure the subscription is registered before publishing.
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sink.Publish(Event{Kind: EventSnapshot, Snapshot: &Snapshot{CompletedRequests: 5}})

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("did not receive published event: %v", err)
	}

	var evt Event
	if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if evt.Kind != EventSnapshot || evt.Snapshot == nil || evt.Snapshot.CompletedRequests != 5 {
		t.Fatalf("unexpected event payload: %+v", evt)
	}
}

func TestRedisSink_PublishNeverPanicsOnClosedClient(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdb.Close()

	sink := NewRedisSink(rdb, "run-456", nil)
	sink.Publish(Event{Kind: EventSnapshot}) // must log and swallow, not panic
}
