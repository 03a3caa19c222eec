package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)

	publisher, err := NewRedisPublisher(mr.Addr(), "", 0, "groupgate:events")
	if err != nil {
		t.Fatalf("NewRedisPublisher failed: %v", err)
	}
	defer publisher.Close()

	// Subscribe before publishing
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()

	ctx := context.Background()
	pubsub := sub.Subscribe(ctx, "groupgate:events")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	event := New(TypeItemReadGroupsAdded)
	event.ItemID = 42
	event.GroupID = 7

	if err := publisher.HandleAccessChange(ctx, event); err != nil {
		t.Fatalf("HandleAccessChange failed: %v", err)
	}

	select {
	case msg := <-pubsub.Channel():
		var decoded Event
		if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
			t.Fatalf("Failed to decode published event: %v", err)
		}
		if decoded.Type != TypeItemReadGroupsAdded {
			t.Errorf("Expected type %s, got %s", TypeItemReadGroupsAdded, decoded.Type)
		}
		if decoded.ItemID != 42 || decoded.GroupID != 7 {
			t.Errorf("Unexpected event payload: %+v", decoded)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for published event")
	}
}

func TestNewRedisPublisher_ConnectionError(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisPublisher(addr, "", 0, "groupgate:events"); err == nil {
		t.Fatal("Expected connection error")
	}
}
