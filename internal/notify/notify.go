// Package notify announces finished harvest runs to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Publisher delivers a run summary.
type Publisher interface {
	Publish(ctx context.Context, runID string, payload any) (string, error)
	Close() error
}

// Noop discards every message.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, string, any) (string, error) { return "", nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }

// PubSub publishes JSON payloads to a Pub/Sub topic.
type PubSub struct {
	Client *pubsub.Client
	Topic  *pubsub.Topic
	// ownsClient marks clients created by NewPubSub, which Close must release.
	ownsClient bool
}

// NewPubSub connects to projectID and verifies topicID exists.
func NewPubSub(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*PubSub, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil || !ok {
		_ = client.Close()
		if err == nil {
			err = fmt.Errorf("topic %q not found", topicID)
		}
		return nil, fmt.Errorf("check pubsub topic: %w", err)
	}
	return &PubSub{Client: client, Topic: topic, ownsClient: true}, nil
}

// Publish marshals payload to JSON and waits for the server acknowledgement.
func (p *PubSub) Publish(ctx context.Context, runID string, payload any) (string, error) {
	if p == nil || p.Topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	result := p.Topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id": runID,
			"event":  "harvest.completed",
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client when owned.
func (p *PubSub) Close() error {
	if p == nil {
		return nil
	}
	if p.Topic != nil {
		p.Topic.Stop()
	}
	if p.ownsClient && p.Client != nil {
		if err := p.Client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
