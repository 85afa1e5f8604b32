package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestBus(t *testing.T) *Bus {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBusWithClient(client)
}

func TestPublishReachesSubscriber(t *testing.T) {
	bus := setupTestBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, TopicTasks, TopicComments)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := bus.Publish(ctx, TopicTasks); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case topic := <-sub.C:
		if topic != TopicTasks {
			t.Errorf("expected topic %q, got %q", TopicTasks, topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestSubscriberIgnoresOtherTopics(t *testing.T) {
	bus := setupTestBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, TopicNotifications)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := bus.Publish(ctx, TopicTasks); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := bus.Publish(ctx, TopicNotifications); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case topic := <-sub.C:
		if topic != TopicNotifications {
			t.Errorf("expected only subscribed topic, got %q", topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := setupTestBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, TopicTasks)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Error("expected channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
