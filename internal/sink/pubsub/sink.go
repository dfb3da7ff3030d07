// Package pubsub implements the message sink on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
)

// Sink publishes dispatch payloads to one Pub/Sub topic.
type Sink struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
}

// New creates a Pub/Sub client and a publisher for the topic.
// Authentication uses Application Default Credentials.
func New(ctx context.Context, projectID, topicID string) (*Sink, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("project id and topic id are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Sink{
		client:    client,
		publisher: client.Publisher(topicID),
	}, nil
}

// Publish sends the payload and waits for the server acknowledgement, so
// fan-out callers observe real delivery failures instead of fire-and-forget.
func (s *Sink) Publish(ctx context.Context, payload []byte) error {
	result := s.publisher.Publish(ctx, &pubsub.Message{Data: payload})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish dispatch message: %w", err)
	}
	return nil
}

// Close stops the publisher and closes the underlying client connection.
func (s *Sink) Close() error {
	s.publisher.Stop()
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
