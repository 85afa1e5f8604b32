// Package realtime broadcasts change events over Redis pub/sub.
//
// Events are payloadless signals naming the logical collection that changed.
// Subscribers react by refetching the whole collection rather than applying
// the event itself, so a dropped or duplicated message can never leave a
// subscriber with partial state.
package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	TopicTasks         = "tasks"
	TopicComments      = "comments"
	TopicNotifications = "notifications"
	TopicProfiles      = "profiles"
	TopicAllowedEmails = "allowed_emails"
)

const channelPrefix = "changes:"

type Bus struct {
	client *redis.Client
}

func NewBus(redisURL string) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Bus{client: client}, nil
}

func NewBusWithClient(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// Publish signals that the named collection changed.
func (b *Bus) Publish(ctx context.Context, topic string) error {
	if err := b.client.Publish(ctx, channelPrefix+topic, "1").Err(); err != nil {
		return fmt.Errorf("publish change %s: %w", topic, err)
	}
	return nil
}

// Subscription delivers changed-collection names on C until Close is called.
type Subscription struct {
	pubsub *redis.PubSub
	C      <-chan string
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

// Subscribe listens for changes on the given topics.
func (b *Bus) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	channels := make([]string, len(topics))
	for i, topic := range topics {
		channels[i] = channelPrefix + topic
	}

	pubsub := b.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe changes: %w", err)
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			out <- strings.TrimPrefix(msg.Channel, channelPrefix)
		}
	}()

	return &Subscription{pubsub: pubsub, C: out}, nil
}

func (b *Bus) Close() error {
	return b.client.Close()
}

func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
