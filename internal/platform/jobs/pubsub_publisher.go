package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/YunomiXavia/beQuanTri/internal/services"
)

// NotificationMessage is the payload consumed by the mail relay subscribed to the
// notifications topic.
type NotificationMessage struct {
	Address  string    `json:"address"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	QueuedAt time.Time `json:"queuedAt"`
}

// PubSubNotifier hands customer and collaborator notifications to a Pub/Sub topic.
type PubSubNotifier struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	clock   func() time.Time
}

// NewPubSubNotifier constructs a Pub/Sub backed services.Notifier.
func NewPubSubNotifier(topic *pubsub.Topic) (*PubSubNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub notifier: topic is required")
	}
	return &PubSubNotifier{topic: topic, marshal: json.Marshal, clock: time.Now}, nil
}

// Notify publishes one message and waits for the server acknowledgement.
func (p *PubSubNotifier) Notify(ctx context.Context, address, subject, body string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return errors.New("pubsub notifier: address is required")
	}
	data, err := p.marshal(NotificationMessage{
		Address:  address,
		Subject:  subject,
		Body:     body,
		QueuedAt: p.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if _, err := publish(ctx, p.topic, data, map[string]string{"kind": "notification"}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// PubSubOrderEventPublisher mirrors order lifecycle events onto a Pub/Sub topic. Messages for
// one order share an ordering key when the topic has message ordering enabled.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed services.OrderEventPublisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order events: topic is required")
	}
	return &PubSubOrderEventPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishOrderEvent publishes event with its type, order and status as attributes so
// subscriptions can filter without decoding the body.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	attrs := make(map[string]string, 4)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", string(event.Status))
	setAttr(attrs, "collaboratorId", event.CollaboratorID)

	if _, err := publish(ctx, p.topic, data, attrs); err != nil {
		return fmt.Errorf("publish order event %s: %w", event.Type, err)
	}
	return nil
}

func publish(ctx context.Context, topic *pubsub.Topic, data []byte, attrs map[string]string) (string, error) {
	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if topic.EnableMessageOrdering {
		msg.OrderingKey = attrs["orderId"]
	}
	return topic.Publish(ctx, msg).Get(ctx)
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
