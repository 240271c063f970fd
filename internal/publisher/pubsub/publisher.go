// Package pubsub publishes harvester notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// EventAttribute carries the notification kind on every message.
const EventAttribute = "event"

type sender interface {
	send(ctx context.Context, msg *pubsub.Message) (string, error)
}

type topicSender struct {
	topic *pubsub.Topic
}

func (s topicSender) send(ctx context.Context, msg *pubsub.Message) (string, error) {
	return s.topic.Publish(ctx, msg).Get(ctx)
}

// Publisher sends JSON payloads to one Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sender sender
}

// New connects to projectID and publishes to topicID. opts are passed to the
// Pub/Sub client, e.g. to target an emulator.
func New(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	return &Publisher{client: client, topic: topic, sender: topicSender{topic: topic}}, nil
}

// Publish marshals payload to JSON and publishes it. event is recorded in
// the message attributes so subscribers can filter.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	if p == nil || p.sender == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{EventAttribute: event}}
	id, err := p.sender.send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", event, err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
