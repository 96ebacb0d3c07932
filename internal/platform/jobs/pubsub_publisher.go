package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/vastramart/api/internal/services"
)

// PubSubNotificationPublisher publishes order notification events to the
// topic consumed by the mailer worker.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher wraps the given topic.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishNotification enqueues the event and waits for the server-assigned
// message ID.
func (p *PubSubNotificationPublisher) PublishNotification(ctx context.Context, event services.OrderNotification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notification publisher: not initialised")
	}

	msg, err := notificationMessage(event, p.marshal)
	if err != nil {
		return err
	}

	result := p.topic.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order notification: %w", err)
	}
	return nil
}

func notificationMessage(event services.OrderNotification, marshal func(any) ([]byte, error)) (*pubsub.Message, error) {
	data, err := marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal order notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "event", string(event.Event))
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "userId", event.UserID)

	return &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	}, nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
