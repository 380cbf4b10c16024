package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

const (
	connectAttempts  = 5
	connectBaseDelay = 500 * time.Millisecond
	publishTimeout   = 10 * time.Second
)

// Connect dials the Pub/Sub backend, retrying with bounded exponential
// backoff before giving up.
func Connect(ctx context.Context, projectID string, logger *slog.Logger) (*pubsub.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var lastErr error
	delay := connectBaseDelay
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		client, err := pubsub.NewClient(ctx, projectID)
		if err == nil {
			return client, nil
		}
		lastErr = err
		logger.Warn("pubsub connect failed", "attempt", attempt, "error", err)
		if attempt == connectAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}
	return nil, fmt.Errorf("connecting to pubsub after %d attempts: %w", connectAttempts, lastErr)
}

// Topic adapts a Pub/Sub topic to the Publisher interface. Publish blocks
// until the server acknowledges the message.
type Topic struct {
	topic *pubsub.Topic
}

// NewTopic wraps a Pub/Sub topic.
func NewTopic(t *pubsub.Topic) *Topic {
	return &Topic{topic: t}
}

func (t *Topic) Publish(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	_, err := t.topic.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	return err
}

// Subscription adapts a Pub/Sub subscription to the Subscriber interface.
type Subscription struct {
	sub *pubsub.Subscription
}

// NewSubscription wraps a Pub/Sub subscription. Workers and outstanding
// message limits are taken from the subscription's receive settings.
func NewSubscription(s *pubsub.Subscription) *Subscription {
	return &Subscription{sub: s}
}

func (s *Subscription) Receive(ctx context.Context, h Handler) error {
	return s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if h(ctx, msg.Data) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
}
