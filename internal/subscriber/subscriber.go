// Package subscriber consumes dispatch messages from a Pub/Sub pull
// subscription and feeds them to the trigger handler.
package subscriber

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/beaconaudit/beacon/internal/handler"
)

// Trigger processes one delivered payload.
type Trigger interface {
	Handle(ctx context.Context, payload []byte) (handler.Outcome, error)
}

// Subscriber runs the receive loop.
type Subscriber struct {
	client  *pubsub.Client
	sub     *pubsub.Subscriber
	trigger Trigger
	logger  *zap.Logger
}

// New creates a Pub/Sub client and a subscriber handle.
// Authentication uses Application Default Credentials.
func New(ctx context.Context, projectID, subscriptionID string, trigger Trigger, logger *zap.Logger) (*Subscriber, error) {
	if projectID == "" || subscriptionID == "" {
		return nil, fmt.Errorf("project id and subscription id are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Subscriber{
		client:  client,
		sub:     client.Subscriber(subscriptionID),
		trigger: trigger,
		logger:  logger,
	}, nil
}

// Run blocks receiving messages until the context finishes.
//
// Terminal outcomes (dispatched, admitted, rejected) ack the message; a
// returned error nacks it so the subscription redelivers. Delivery is
// at-least-once, so the handler is safe under duplication.
func (s *Subscriber) Run(ctx context.Context) error {
	err := s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		outcome, err := s.trigger.Handle(ctx, msg.Data)
		if err != nil {
			s.logger.Warn("trigger failed, nacking for redelivery",
				zap.String("message_id", msg.ID),
				zap.String("kind", string(outcome.Kind)),
				zap.Error(err),
			)
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Subscriber) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
